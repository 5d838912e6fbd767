// Package window holds the analysis time window shared by extraction and artifact discovery,
// along with the fixed-width date stamps used on the command line and in artifact names.
package window

import (
	"errors"
	"fmt"
	"time"
)

const (
	// HourLayout is the YYYYMMDDHH form used for command-line dates.
	HourLayout = "2006010215"
	// MinuteLayout is the YYYYMMDDHHMM form embedded in artifact file names.
	MinuteLayout = "200601021504"
)

// ErrInvalid is returned for malformed stamps and inverted windows.
var ErrInvalid = errors.New("invalid time window")

// Window is a [Start, End] analysis period in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// New builds a window and checks that Start is strictly before End.
func New(start, end time.Time) (Window, error) {
	w := Window{Start: start.UTC(), End: end.UTC()}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate reports an error unless Start < End.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: start and end are both required", ErrInvalid)
	}
	if !w.Start.Before(w.End) {
		return fmt.Errorf("%w: beginning date %s must be less than ending date %s",
			ErrInvalid, w.Start.Format(HourLayout), w.End.Format(HourLayout))
	}
	return nil
}

// Contains reports whether t lies strictly inside the window. Both ends are excluded.
func (w Window) Contains(t time.Time) bool {
	return t.After(w.Start) && t.Before(w.End)
}

// Covers reports whether w fully contains other (inclusive at both ends).
func (w Window) Covers(other Window) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

// Duration is End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// ParseHour parses a 10-digit YYYYMMDDHH stamp as UTC.
func ParseHour(s string) (time.Time, error) {
	return parseFixed(s, HourLayout)
}

// ParseMinute parses a 12-digit YYYYMMDDHHMM stamp as UTC.
func ParseMinute(s string) (time.Time, error) {
	return parseFixed(s, MinuteLayout)
}

// ParseHours builds a window from two YYYYMMDDHH stamps.
func ParseHours(begin, end string) (Window, error) {
	if begin == "" || end == "" {
		return Window{}, fmt.Errorf("%w: beginning and ending dates must be given together", ErrInvalid)
	}
	b, err := ParseHour(begin)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseHour(end)
	if err != nil {
		return Window{}, err
	}
	return New(b, e)
}

func parseFixed(s, layout string) (time.Time, error) {
	if len(s) != len(layout) {
		return time.Time{}, fmt.Errorf("%w: %q is not a %d-digit date", ErrInvalid, s, len(layout))
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("%w: %q contains non-digit characters", ErrInvalid, s)
		}
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return t, nil
}
