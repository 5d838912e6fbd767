package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wrfhydro/snoweval/internal/artifact"
	"github.com/wrfhydro/snoweval/internal/extract"
	"github.com/wrfhydro/snoweval/internal/stations"
)

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SNOW_DB_OBS_2020010100_2020011000.nc")
	hour := extract.HoursSinceEpoch(time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC))
	md := []stations.Metadata{{UniqueID: 7, Latitude: 40.5, Longitude: -105.25}}
	swe := []extract.Record{{StationID: 7, Value: 120, Hours: hour}, {StationID: 7, Value: 140, Hours: hour + 24}}
	require.NoError(t, artifact.Write(path, md, swe, nil, zap.NewNop().Sugar()))

	var buf bytes.Buffer
	require.NoError(t, inspect(&buf, path, true))

	out := buf.String()
	assert.Contains(t, out, "numSweObs    2")
	assert.Contains(t, out, "numSdObs     0")
	assert.Contains(t, out, "2020-01-05 00:00")
	assert.Contains(t, out, "2020-01-06 00:00")
	assert.Contains(t, out, artifact.Institution)
	assert.Contains(t, out, "[mm]")
}

func TestInspectMissingFile(t *testing.T) {
	require.Error(t, inspect(&bytes.Buffer{}, filepath.Join(t.TempDir(), "nope.nc"), false))
}
