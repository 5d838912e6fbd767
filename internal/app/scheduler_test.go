package app

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerRejectsBadInput(t *testing.T) {
	ex := testExtraction((&countingOpener{store: seededStore()}).open)

	_, err := NewScheduler("every tuesday", 24*time.Hour, ex, Request{}, nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = NewScheduler("0 * * * *", 30*time.Minute, ex, Request{}, nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestSchedulerNext(t *testing.T) {
	ex := testExtraction((&countingOpener{store: seededStore()}).open)
	s, err := NewScheduler("0 * * * *", 48*time.Hour, ex, Request{OutputDir: "/out", IsPrimary: true}, nil)
	require.NoError(t, err)

	req := s.Next(time.Date(2020, 1, 10, 6, 42, 10, 0, time.UTC))
	assert.Equal(t, at(10, 6), req.Window.End)
	assert.Equal(t, at(8, 6), req.Window.Start)
	assert.Equal(t, "/out", req.OutputDir)
}

func TestSchedulerTick(t *testing.T) {
	dir := t.TempDir()
	ex := testExtraction((&countingOpener{store: seededStore()}).open)
	ex.Clock = clockwork.NewFakeClockAt(time.Date(2020, 1, 10, 0, 15, 0, 0, time.UTC))

	tmpl := Request{OutputDir: dir, GeoFile: "/domain/geo_em.d01.nc", IsPrimary: true}
	s, err := NewScheduler("@hourly", 9*24*time.Hour, ex, tmpl, nil)
	require.NoError(t, err)

	out, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutputPath(dir, ObservationPrefix, at(1, 0), at(10, 0)), out.Path)
	assert.FileExists(t, out.Path)
}

func TestSchedulerRunStopsWithContext(t *testing.T) {
	ex := testExtraction((&countingOpener{store: seededStore()}).open)
	s, err := NewScheduler("@yearly", 24*time.Hour, ex, Request{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
