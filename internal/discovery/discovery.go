// Package discovery finds previously produced dated files whose embedded time range covers
// an analysis window.
//
// File names follow START_END_TAG1_..._TAGn.EXT where START and END are 12-digit
// YYYYMMDDHHMM stamps in UTC.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wrfhydro/snoweval/internal/window"
)

// DefaultExt is the extension of the statistical runtime's read products.
const DefaultExt = "Rdata"

var (
	// ErrNotFound is returned when no file covers the requested window.
	ErrNotFound = errors.New("no covering file found")
	// ErrMalformed is returned by ParseName for names outside the grammar.
	ErrMalformed = errors.New("malformed artifact name")
)

// Strategy selects among several covering files.
type Strategy string

const (
	// FirstMatch returns the first covering file in lexical walk order.
	FirstMatch Strategy = "first"
	// Narrowest returns the covering file with the shortest range. Ties go to the file
	// seen first in walk order.
	Narrowest Strategy = "narrowest"
)

// ParseStrategy accepts "first", "narrowest" or "" (FirstMatch).
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", FirstMatch:
		return FirstMatch, nil
	case Narrowest:
		return Narrowest, nil
	default:
		return "", fmt.Errorf("unknown discovery strategy %q. Use 'first' or 'narrowest'", s)
	}
}

// ArtifactName is the parsed form of a discoverable file name.
type ArtifactName struct {
	Start time.Time
	End   time.Time
	Tags  []string
}

// Window returns the range embedded in the name.
func (n ArtifactName) Window() window.Window {
	return window.Window{Start: n.Start, End: n.End}
}

// Name formats a file name for the given range and tags.
func Name(start, end time.Time, tags []string, ext string) string {
	parts := append([]string{start.UTC().Format(window.MinuteLayout), end.UTC().Format(window.MinuteLayout)}, tags...)
	return strings.Join(parts, "_") + "." + strings.TrimPrefix(ext, ".")
}

// ParseName parses a file name with extension ext. Every token after the two dates is a tag.
func ParseName(name, ext string) (ArtifactName, error) {
	base, ok := splitExt(name, ext)
	if !ok {
		return ArtifactName{}, fmt.Errorf("%w: %s does not end in .%s", ErrMalformed, name, strings.TrimPrefix(ext, "."))
	}
	tokens := strings.Split(base, "_")
	if len(tokens) < 2 {
		return ArtifactName{}, fmt.Errorf("%w: %s has no date range", ErrMalformed, name)
	}
	return parseTokens(name, tokens)
}

// Index searches a directory tree for covering files.
type Index struct {
	Root     string
	Ext      string
	Strategy Strategy
	Logger   *zap.SugaredLogger
}

// NewIndex returns an Index over root with the default extension and strategy.
func NewIndex(root string, logger *zap.SugaredLogger) *Index {
	return &Index{Root: root, Ext: DefaultExt, Strategy: FirstMatch, Logger: logger}
}

type candidate struct {
	path string
	rng  window.Window
}

// FindCovering walks Root and returns the path of a file whose name carries exactly tags
// and whose range contains w.
func (ix *Index) FindCovering(w window.Window, tags []string) (string, error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	ext := ix.Ext
	if ext == "" {
		ext = DefaultExt
	}
	logger := ix.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var best *candidate
	seen := 0

	err := filepath.WalkDir(ix.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == ix.Root {
				return err
			}
			logger.Warnw("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		name, ok := matchStructure(d.Name(), ext, tags)
		if !ok {
			return nil
		}
		cand, err := parseTokens(d.Name(), name)
		if err != nil {
			logger.Warnw("skipping file with invalid date range", "path", path, "error", err)
			return nil
		}

		rng := cand.Window()
		if !rng.Covers(w) {
			if rng.Start.Before(w.End) && w.Start.Before(rng.End) {
				logger.Infow("file only partially covers the analysis window", "path", path,
					"fileStart", rng.Start.Format(window.MinuteLayout), "fileEnd", rng.End.Format(window.MinuteLayout))
			}
			return nil
		}

		seen++
		c := &candidate{path: path, rng: rng}
		if ix.Strategy != Narrowest {
			best = c
			return filepath.SkipAll
		}
		if best == nil || c.rng.Duration() < best.rng.Duration() {
			best = c
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w under %s: %w", ErrNotFound, ix.Root, err)
	}

	if best == nil {
		return "", fmt.Errorf("%w under %s for %s to %s with tags %s", ErrNotFound, ix.Root,
			w.Start.Format(window.MinuteLayout), w.End.Format(window.MinuteLayout), strings.Join(tags, "_"))
	}
	if seen > 1 {
		logger.Infow("several files cover the analysis window", "count", seen, "selected", best.path,
			"strategy", string(ix.Strategy))
	}
	return best.path, nil
}

// matchStructure checks a file name against the grammar for the given tags and returns the
// underscore tokens of its base name.
func matchStructure(name, ext string, tags []string) ([]string, bool) {
	base, ok := splitExt(name, ext)
	if !ok {
		return nil, false
	}
	tokens := strings.Split(base, "_")
	if len(tokens) != len(tags)+2 {
		return nil, false
	}
	if !slices.Equal(tokens[2:], tags) {
		return nil, false
	}
	return tokens, true
}

// splitExt requires exactly one "." in name, followed by ext.
func splitExt(name, ext string) (string, bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 2 || parts[1] != strings.TrimPrefix(ext, ".") {
		return "", false
	}
	return parts[0], true
}

func parseTokens(name string, tokens []string) (ArtifactName, error) {
	start, err := window.ParseMinute(tokens[0])
	if err != nil {
		return ArtifactName{}, fmt.Errorf("%w: %s start date: %w", ErrMalformed, name, err)
	}
	end, err := window.ParseMinute(tokens[1])
	if err != nil {
		return ArtifactName{}, fmt.Errorf("%w: %s end date: %w", ErrMalformed, name, err)
	}
	var tags []string
	if len(tokens) > 2 {
		tags = slices.Clone(tokens[2:])
	}
	return ArtifactName{Start: start, End: end, Tags: tags}, nil
}
