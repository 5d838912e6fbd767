// Package app composes station filtering, extraction, file writing and discovery into the
// extraction and evaluation workflows.
package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/wrfhydro/snoweval/internal/observability"
)

// App runs scheduled extraction as a long-lived process.
type App struct {
	scheduler *Scheduler
	metrics   *observability.Metrics
	pushURL   string
	pushJob   string
	logger    *zap.SugaredLogger
}

// New creates an App. pushURL may be empty.
func New(scheduler *Scheduler, metrics *observability.Metrics, pushURL, pushJob string, logger *zap.SugaredLogger) *App {
	return &App{
		scheduler: scheduler,
		metrics:   metrics,
		pushURL:   pushURL,
		pushJob:   pushJob,
		logger:    logger,
	}
}

// Run starts the scheduler and blocks until a signal arrives or ctx is done.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- a.scheduler.Run(ctx)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var err error
	select {
	case <-sigs:
		a.logger.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		a.logger.Info("context cancelled, shutting down...")
	case err = <-errs:
	}

	cancel()
	a.logger.Info("waiting for a running extraction to finish...")
	wg.Wait()

	if a.metrics != nil && a.pushURL != "" {
		if perr := a.metrics.Push(context.Background(), a.pushURL, a.pushJob); perr != nil {
			a.logger.Warnf("%v", perr)
		}
	}
	a.logger.Info("shutdown complete")
	return err
}
