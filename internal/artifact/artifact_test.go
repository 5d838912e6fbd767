package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wrfhydro/snoweval/internal/extract"
	"github.com/wrfhydro/snoweval/internal/stations"
)

func testStations() []stations.Metadata {
	return []stations.Metadata{
		{UniqueID: 11, Latitude: 40.25, Longitude: -105.5},
		{UniqueID: 22, Latitude: 41.75, Longitude: -106.125},
	}
}

func hours(t time.Time) int64 {
	return extract.HoursSinceEpoch(t)
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SNOW_DB_OBS_2020010500_2020011000.nc")
	base := time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC)

	swe := []extract.Record{
		{StationID: 11, Value: 101.5, Hours: hours(base.Add(time.Hour))},
		{StationID: 22, Value: 0.25, Hours: hours(base.Add(2 * time.Hour))},
		{StationID: 11, Value: 99.75, Hours: hours(base.Add(3 * time.Hour))},
	}
	sd := []extract.Record{
		{StationID: 22, Value: 812, Hours: hours(base.Add(5 * time.Hour))},
	}

	require.NoError(t, Write(path, testStations(), swe, sd, zap.NewNop().Sugar()))

	a, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, []int32{11, 22}, a.UniqueIDs)
	assert.InDeltaSlice(t, []float32{40.25, 41.75}, a.Latitudes, 1e-6)
	assert.InDeltaSlice(t, []float32{-105.5, -106.125}, a.Longitudes, 1e-6)

	require.Equal(t, 3, a.SWE.Len())
	assert.InDeltaSlice(t, []float32{101.5, 0.25, 99.75}, a.SWE.Values, 1e-6)
	assert.Equal(t, []int32{11, 22, 11}, a.SWE.IDs)
	assert.Equal(t, int32(hours(base.Add(time.Hour))), a.SWE.Hours[0])

	require.Equal(t, 1, a.SnowDepth.Len())
	assert.Equal(t, []int32{22}, a.SnowDepth.IDs)

	assert.Equal(t, Institution, a.Institution)
	assert.Equal(t, Comment, a.Comment)

	dims, err := Dims(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{DimStations: 2, DimSWE: 3, DimSD: 1}, dims)

	units, err := Units(path, VarSWEDates)
	require.NoError(t, err)
	assert.Equal(t, DateUnits, units)
	units, err = Units(path, VarSD)
	require.NoError(t, err)
	assert.Equal(t, ValueUnits, units)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be removed")
}

func TestWriteRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.nc")
	swe := []extract.Record{{StationID: 11, Value: 1, Hours: 10}}

	require.NoError(t, Write(path, testStations(), swe, nil, zap.NewNop().Sugar()))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = Write(path, testStations(), []extract.Record{{StationID: 22, Value: 2, Hours: 20}}, nil, zap.NewNop().Sugar())
	require.ErrorIs(t, err, ErrAlreadyExists)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestWriteEmptySeries(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	path := filepath.Join(t.TempDir(), "empty.nc")
	sd := []extract.Record{{StationID: 22, Value: 640, Hours: 438_400}}

	require.NoError(t, Write(path, testStations(), nil, sd, zap.New(core).Sugar()))

	a, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 0, a.SWE.Len())
	assert.Empty(t, a.SWE.IDs)
	assert.Empty(t, a.SWE.Hours)
	assert.Equal(t, 1, a.SnowDepth.Len())

	dims, err := Dims(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), dims[DimSWE])

	assert.Equal(t, 1, logs.FilterMessageSnippet("0 observations of kind SWE").Len())
}

func TestWriteRejectsOutOfRangeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.nc")
	swe := []extract.Record{{StationID: 1 << 40, Value: 1, Hours: 1}}

	err := Write(path, testStations(), swe, nil, zap.NewNop().Sugar())
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSummarize(t *testing.T) {
	a := &Artifact{
		UniqueIDs: []int32{1, 2},
		SWE: Series{
			Values: []float32{10, 20, 30},
			IDs:    []int32{1, 1, 2},
			Hours:  []int32{100, 90, 110},
		},
	}

	s := Summarize(a)
	assert.Equal(t, 2, s.Stations)
	assert.Equal(t, 3, s.SWE.Count)
	assert.Equal(t, 2, s.SWE.Stations)
	assert.InDelta(t, 20.0, s.SWE.Mean, 1e-9)
	assert.InDelta(t, 10.0, s.SWE.StdDev, 1e-9)
	assert.InDelta(t, 10.0, s.SWE.Min, 1e-9)
	assert.InDelta(t, 30.0, s.SWE.Max, 1e-9)
	assert.Equal(t, HourTime(90), s.SWE.First)
	assert.Equal(t, HourTime(110), s.SWE.Last)
	assert.Zero(t, s.SnowDepth)
}
