package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreIndependent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.Extractions.WithLabelValues("written").Inc()
	a.Observations.WithLabelValues("swe").Add(12)

	assert.InDelta(t, 1.0, testutil.ToFloat64(a.Extractions.WithLabelValues("written")), 1e-9)
	assert.InDelta(t, 12.0, testutil.ToFloat64(a.Observations.WithLabelValues("swe")), 1e-9)
	assert.InDelta(t, 0.0, testutil.ToFloat64(b.Extractions.WithLabelValues("written")), 1e-9)
}

func TestObserveStage(t *testing.T) {
	m := NewMetricsForTesting()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	m.ObserveStage("query", start, start.Add(2*time.Second))

	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMetricsForTesting()
	m.RuntimeFailures.Inc()

	require.NoError(t, m.Push(context.Background(), srv.URL, "snowdb-extract"))
	assert.True(t, strings.HasPrefix(gotPath, "/metrics/job/snowdb-extract"), gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	require.Error(t, NewMetricsForTesting().Push(context.Background(), srv.URL, ""))
}
