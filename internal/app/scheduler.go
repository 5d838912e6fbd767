package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler extracts the trailing window on every cron tick.
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	extraction *Extraction
	template   Request
	window     time.Duration
	logger     *zap.SugaredLogger
}

// NewScheduler schedules extractions of the last trailing duration, ending at the most
// recent whole hour, on the cron spec.
func NewScheduler(spec string, trailing time.Duration, ex *Extraction, template Request, logger *zap.SugaredLogger) (*Scheduler, error) {
	if trailing < time.Hour {
		return nil, fmt.Errorf("%w: scheduled window %s is shorter than an hour", ErrValidation, trailing)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Desugar()))
	s := &Scheduler{
		cron:       cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger))),
		spec:       spec,
		extraction: ex,
		template:   template,
		window:     trailing,
		logger:     logger,
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("%w: invalid schedule %q: %w", ErrValidation, spec, err)
	}
	return s, nil
}

// Next returns the request for a tick at now.
func (s *Scheduler) Next(now time.Time) Request {
	req := s.template
	req.Window.End = now.UTC().Truncate(time.Hour)
	req.Window.Start = req.Window.End.Add(-s.window)
	return req
}

// Tick runs one extraction for the current time.
func (s *Scheduler) Tick(ctx context.Context) (Outcome, error) {
	return s.extraction.Run(ctx, s.Next(s.extraction.Clock.Now()))
}

// Run starts the schedule and blocks until ctx is done, then waits for a running
// extraction to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		out, err := s.Tick(ctx)
		if err != nil {
			s.logger.Errorf("scheduled extraction failed: %v", err)
			return
		}
		s.logger.Infow("scheduled extraction finished", "path", out.Path, "skipped", out.Skipped)
	})
	if err != nil {
		return fmt.Errorf("error scheduling extraction: %w", err)
	}

	s.cron.Start()
	s.logger.Infof("scheduled extraction every %q of the trailing %s", s.spec, s.window)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
