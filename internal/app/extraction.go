package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wrfhydro/snoweval/internal/artifact"
	"github.com/wrfhydro/snoweval/internal/extract"
	"github.com/wrfhydro/snoweval/internal/observability"
	"github.com/wrfhydro/snoweval/internal/obsstore"
	"github.com/wrfhydro/snoweval/internal/runtime"
	"github.com/wrfhydro/snoweval/internal/stations"
	"github.com/wrfhydro/snoweval/internal/window"
)

var (
	// ErrValidation is returned for malformed or conflicting request parameters.
	ErrValidation = errors.New("invalid request")
	// ErrMissingFile is returned when a file the run depends on cannot be found.
	ErrMissingFile = errors.New("required file not found")
)

// ObservationPrefix starts every extracted observation file name.
const ObservationPrefix = "SNOW_DB_OBS"

// DefaultPollInterval is how often a non-primary worker checks for the primary's file.
const DefaultPollInterval = 5 * time.Second

// StoreOpener opens the observation store for a single extraction.
type StoreOpener func(ctx context.Context) (obsstore.Store, error)

// OpenerFor returns a StoreOpener for cfg.
func OpenerFor(cfg obsstore.Config, logger *zap.SugaredLogger) StoreOpener {
	return func(ctx context.Context) (obsstore.Store, error) {
		return obsstore.Open(ctx, cfg, logger)
	}
}

// Handoff runs the statistical runtime on a parameter file.
type Handoff interface {
	Run(ctx context.Context, paramPath string) error
}

// Request is one extraction.
type Request struct {
	Window     window.Window
	OutputDir  string
	GeoFile    string
	MaskFile   string
	Subsetting stations.Subsetting
	// Tags are appended to the file name after the two dates.
	Tags []string
	// IsPrimary marks the one worker allowed to write the file.
	IsPrimary bool
}

// Outcome reports what an extraction did.
type Outcome struct {
	Path     string
	Skipped  bool
	Waited   bool
	Stations int
	Result   extract.Result
}

// Extraction turns a Request into an observation file.
type Extraction struct {
	OpenStore    StoreOpener
	EmptyPolicy  extract.EmptyPolicy
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Clock        clockwork.Clock
	Metrics      *observability.Metrics
	Handoff      Handoff
	ParamFormat  runtime.Format
	Logger       *zap.SugaredLogger
}

// NewExtraction returns an Extraction with a real clock and fresh metrics.
func NewExtraction(open StoreOpener, logger *zap.SugaredLogger) *Extraction {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Extraction{
		OpenStore:    open,
		EmptyPolicy:  extract.EmptyFail,
		PollInterval: DefaultPollInterval,
		Clock:        clockwork.NewRealClock(),
		Metrics:      observability.NewMetrics(),
		ParamFormat:  runtime.FormatJSON,
		Logger:       logger,
	}
}

// OutputPath builds DIR/PREFIX_YYYYMMDDHH_YYYYMMDDHH[_TAG...].nc.
func OutputPath(dir, prefix string, start, end time.Time, tags ...string) string {
	parts := append([]string{
		prefix,
		start.UTC().Format(window.HourLayout),
		end.UTC().Format(window.HourLayout),
	}, tags...)
	return filepath.Join(dir, strings.Join(parts, "_")+".nc")
}

// Validate checks a request before anything touches the store or the disk.
func (r Request) Validate() error {
	if err := r.Subsetting.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := r.Window.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	switch {
	case r.OutputDir == "":
		return fmt.Errorf("%w: no output directory specified", ErrValidation)
	case r.OutputDir == "." || r.OutputDir == "./" || !filepath.IsAbs(r.OutputDir):
		return fmt.Errorf("%w: output directory %q must be an absolute path", ErrValidation, r.OutputDir)
	case strings.TrimSpace(r.GeoFile) == "":
		return fmt.Errorf("%w: a geogrid file is required", ErrValidation)
	case r.MaskFile != "" && strings.TrimSpace(r.MaskFile) == "":
		return fmt.Errorf("%w: empty mask file path", ErrValidation)
	}
	for _, tag := range r.Tags {
		if tag == "" || strings.ContainsAny(tag, "_./") {
			return fmt.Errorf("%w: file name tag %q", ErrValidation, tag)
		}
	}
	return nil
}

// Run validates req, extracts the observations in its window and writes them to the
// canonical path. A non-primary request never writes: it returns Skipped, or waits for
// the primary's file when WaitTimeout is set.
func (e *Extraction) Run(ctx context.Context, req Request) (out Outcome, err error) {
	defer func() { e.countOutcome(out, err) }()

	if err := req.Validate(); err != nil {
		return out, err
	}
	out.Path = OutputPath(req.OutputDir, ObservationPrefix, req.Window.Start, req.Window.End, req.Tags...)

	if !req.IsPrimary {
		return e.awaitPrimary(ctx, out)
	}

	if _, err := os.Lstat(out.Path); err == nil {
		return out, fmt.Errorf("%w: %s", artifact.ErrAlreadyExists, out.Path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return out, fmt.Errorf("failed to check output path %s: %w", out.Path, err)
	}

	md, res, err := e.query(ctx, req)
	if err != nil {
		return out, err
	}
	out.Stations = len(md)
	out.Result = res

	if err := e.EmptyPolicy.Apply(res, req.Window, e.Logger); err != nil {
		return out, err
	}

	start := e.Clock.Now()
	if err := artifact.Write(out.Path, md, res.SWE, res.SnowDepth, e.Logger); err != nil {
		return out, err
	}
	e.observe("write", start)
	e.Logger.Infow("wrote snow observations", "path", out.Path, "stations", len(md),
		"swe", len(res.SWE), "snow_depth", len(res.SnowDepth))

	if e.Metrics != nil {
		e.Metrics.Observations.WithLabelValues("swe").Add(float64(len(res.SWE)))
		e.Metrics.Observations.WithLabelValues("snow_depth").Add(float64(len(res.SnowDepth)))
		e.Metrics.LastSuccess.Set(float64(e.Clock.Now().Unix()))
	}

	if e.Handoff != nil {
		if err := e.handoff(ctx, req, out.Path); err != nil {
			return out, err
		}
	}
	return out, nil
}

// query holds the store open for metadata, SWE and snow depth and closes it before
// anything is written.
func (e *Extraction) query(ctx context.Context, req Request) (md []stations.Metadata, res extract.Result, err error) {
	start := e.Clock.Now()
	store, err := e.OpenStore(ctx)
	if err != nil {
		return nil, res, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			e.Logger.Warnf("error closing observation store: %v", cerr)
		}
	}()

	all, err := store.Metadata(ctx)
	if err != nil {
		return nil, res, err
	}
	retained := stations.Filter(all, req.Subsetting)
	md = stations.Retain(all, retained)
	e.observe("metadata", start)
	if e.Metrics != nil {
		e.Metrics.StationsRetained.Set(float64(len(md)))
	}
	e.Logger.Debugf("%d of %d stations retained", len(md), len(all))

	start = e.Clock.Now()
	res, err = extract.Extract(ctx, store, req.Window, retained, e.Logger)
	if err != nil {
		return nil, res, err
	}
	e.observe("query", start)
	return md, res, nil
}

func (e *Extraction) awaitPrimary(ctx context.Context, out Outcome) (Outcome, error) {
	if e.WaitTimeout <= 0 {
		e.Logger.Infof("not the primary worker, skipping extraction of %s", out.Path)
		out.Skipped = true
		return out, nil
	}

	interval := e.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := e.Clock.NewTicker(interval)
	defer ticker.Stop()
	deadline := e.Clock.After(e.WaitTimeout)

	for {
		if _, err := os.Stat(out.Path); err == nil {
			out.Waited = true
			return out, nil
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-deadline:
			return out, fmt.Errorf("%w: primary worker did not produce %s within %s", ErrMissingFile, out.Path, e.WaitTimeout)
		case <-ticker.Chan():
		}
	}
}

func (e *Extraction) handoff(ctx context.Context, req Request, path string) error {
	p := &runtime.Params{
		ObservationsNC: path,
		GeoFile:        req.GeoFile,
		MaskFile:       req.MaskFile,
		AnalysisStart:  req.Window.Start.UTC(),
		AnalysisEnd:    req.Window.End.UTC(),
	}
	paramPath := strings.TrimSuffix(path, ".nc") + ".params" + e.ParamFormat.Ext()
	if err := runtime.WriteParamFile(paramPath, p, e.ParamFormat); err != nil {
		return err
	}

	start := e.Clock.Now()
	err := e.Handoff.Run(ctx, paramPath)
	e.observe("runtime", start)
	if err != nil {
		if e.Metrics != nil {
			e.Metrics.RuntimeFailures.Inc()
		}
		return err
	}
	return nil
}

func (e *Extraction) observe(stage string, start time.Time) {
	if e.Metrics != nil {
		e.Metrics.ObserveStage(stage, start, e.Clock.Now())
	}
}

func (e *Extraction) countOutcome(out Outcome, err error) {
	if e.Metrics == nil {
		return
	}
	outcome := "written"
	switch {
	case errors.Is(err, artifact.ErrAlreadyExists):
		outcome = "exists"
	case errors.Is(err, extract.ErrEmptyResult):
		outcome = "empty"
	case err != nil:
		outcome = "error"
	case out.Skipped || out.Waited:
		outcome = "skipped"
	}
	e.Metrics.Extractions.WithLabelValues(outcome).Inc()
}
