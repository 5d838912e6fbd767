// Package extract pulls SWE and snow depth observations for a time window and keeps the
// ones reported by retained stations.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wrfhydro/snoweval/internal/obsstore"
	"github.com/wrfhydro/snoweval/internal/stations"
	"github.com/wrfhydro/snoweval/internal/window"
)

// ErrEmptyResult is returned under EmptyFail when neither series has an observation.
var ErrEmptyResult = errors.New("no observations found in the snow database")

// Source is the part of the observation store the extractor reads.
type Source interface {
	SWE(ctx context.Context, w window.Window) ([]obsstore.Observation, error)
	SnowDepth(ctx context.Context, w window.Window) ([]obsstore.Observation, error)
}

// Record is an observation ready to be written: the timestamp is whole hours since
// 1970-01-01T00:00:00Z.
type Record struct {
	StationID int64
	Value     float64
	Hours     int64
}

// Result holds both filtered series.
type Result struct {
	SWE       []Record
	SnowDepth []Record
	// Dropped counts rows from stations outside the retained set.
	Dropped int
}

// Empty reports whether both series are empty.
func (r Result) Empty() bool {
	return len(r.SWE) == 0 && len(r.SnowDepth) == 0
}

// EmptyPolicy decides what an empty Result means to the caller.
type EmptyPolicy int

const (
	// EmptyWarn logs a warning and lets the caller write an artifact with empty series.
	EmptyWarn EmptyPolicy = iota
	// EmptyFail turns an empty Result into ErrEmptyResult.
	EmptyFail
)

// String returns the policy name used in configuration.
func (p EmptyPolicy) String() string {
	if p == EmptyFail {
		return "fail"
	}
	return "warn"
}

// ParseEmptyPolicy accepts "warn" or "fail"; an empty string is "warn".
func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch s {
	case "", "warn":
		return EmptyWarn, nil
	case "fail":
		return EmptyFail, nil
	default:
		return EmptyWarn, fmt.Errorf("unknown empty result policy %q. Use 'warn' or 'fail'", s)
	}
}

// Apply enforces p on r.
func (p EmptyPolicy) Apply(r Result, w window.Window, logger *zap.SugaredLogger) error {
	if !r.Empty() {
		return nil
	}
	if p == EmptyFail {
		return fmt.Errorf("%w between %s and %s", ErrEmptyResult,
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	logger.Warnw("no snow observations found for the analysis period",
		"start", w.Start.Format(time.RFC3339), "end", w.End.Format(time.RFC3339))
	return nil
}

// HoursSinceEpoch returns floor((t - 1970-01-01T00:00:00Z) / 1h), rounding toward
// negative infinity for times before the epoch.
func HoursSinceEpoch(t time.Time) int64 {
	secs := t.Unix()
	hours := secs / 3600
	if secs%3600 < 0 {
		hours--
	}
	return hours
}

// Extract queries SWE and then snow depth for w and keeps the rows whose station is in
// retained. Store failures abort the extraction and are returned unchanged in kind.
func Extract(ctx context.Context, src Source, w window.Window, retained stations.RetainedSet, logger *zap.SugaredLogger) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}

	var res Result

	swe, err := src.SWE(ctx, w)
	if err != nil {
		return Result{}, err
	}
	var dropped int
	res.SWE, dropped = keep(swe, w, retained)
	res.Dropped += dropped

	sd, err := src.SnowDepth(ctx, w)
	if err != nil {
		return Result{}, err
	}
	res.SnowDepth, dropped = keep(sd, w, retained)
	res.Dropped += dropped

	logger.Infow("extracted snow observations",
		"swe", len(res.SWE), "snowDepth", len(res.SnowDepth), "dropped", res.Dropped,
		"stations", retained.Len())
	return res, nil
}

func keep(obs []obsstore.Observation, w window.Window, retained stations.RetainedSet) ([]Record, int) {
	out := make([]Record, 0, len(obs))
	dropped := 0
	for _, o := range obs {
		if !retained.Has(o.StationID) || !w.Contains(o.Time) {
			dropped++
			continue
		}
		out = append(out, Record{StationID: o.StationID, Value: o.Value, Hours: HoursSinceEpoch(o.Time)})
	}
	return out, dropped
}
