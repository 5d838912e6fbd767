package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testParams() *Params {
	return &Params{
		RunID:         "run-1",
		JobDir:        "/scratch/conus/job1",
		Aliases:       []string{"conus", "retro"},
		Tags:          []string{"NWMv3", "RETRO"},
		GeoFile:       "/domain/geo_em.d01.nc",
		GeoResolution: 1000,
		Aggregation:   1,
		AnalysisStart: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		AnalysisEnd:   time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
		Analysis: &AnalysisParams{
			Product:      5,
			Point:        true,
			Region:       true,
			OutputPath:   "/stat/out.Rdata",
			SnowReadFile: "/stat/read.Rdata",
		},
	}
}

func TestEncodeJSONUsesRFC3339(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, testParams(), FormatJSON))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	assert.Equal(t, "2020-01-01T00:00:00Z", raw["analysisStart"])
	assert.Equal(t, []any{"conus", "retro"}, raw["aliases"])
	assert.NotContains(t, raw, "read")
}

func TestEncodeDecode(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatMsgpack} {
		t.Run(string(f), func(t *testing.T) {
			want := testParams()
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, want, f))

			got, err := Decode(&buf, f)
			require.NoError(t, err)
			assert.Equal(t, want.Aliases, got.Aliases)
			assert.Equal(t, want.Analysis, got.Analysis)
			assert.Nil(t, got.Read)
			assert.True(t, want.AnalysisStart.Equal(got.AnalysisStart))
			assert.True(t, want.AnalysisEnd.Equal(got.AnalysisEnd))
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	assert.Equal(t, ".json", f.Ext())

	f, err = ParseFormat("msgpack")
	require.NoError(t, err)
	assert.Equal(t, ".msgpack", f.Ext())

	_, err = ParseFormat("xml")
	require.Error(t, err)
}

func TestWriteParamFileRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, WriteParamFile(path, testParams(), FormatJSON))
	require.Error(t, WriteParamFile(path, testParams(), FormatJSON))

	got, err := ReadParamFile(path, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtime.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func writeParams(t *testing.T, f Format) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params_run"+f.Ext())
	require.NoError(t, WriteParamFile(path, testParams(), f))
	return path
}

func TestRunnerPassesParamPath(t *testing.T) {
	script := writeScript(t, `echo "params at $1"`+"\n")
	core, logs := observer.New(zap.InfoLevel)

	r, err := NewRunner([]string{script}, t.TempDir(), "30s", zap.New(core).Sugar())
	require.NoError(t, err)
	for _, f := range []Format{FormatJSON, FormatMsgpack} {
		path := writeParams(t, f)
		require.NoError(t, r.Run(context.Background(), path))
		assert.Equal(t, 1, logs.FilterMessage("params at "+path).Len())
	}
	started := logs.FilterMessage("starting statistical runtime").All()
	require.Len(t, started, 2)
	assert.Equal(t, testParams().RunID, started[0].ContextMap()["run"])
}

func TestRunnerRejectsUnreadableParams(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	r, err := NewRunner([]string{script}, "", "", nil)
	require.NoError(t, err)

	err = r.Run(context.Background(), filepath.Join(t.TempDir(), "gone.json"))
	require.ErrorIs(t, err, ErrRuntimeFailed)
	assert.Contains(t, err.Error(), "unreadable parameter file")

	garbled := filepath.Join(t.TempDir(), "garbled.json")
	require.NoError(t, os.WriteFile(garbled, []byte("{not json"), 0o644))
	require.ErrorIs(t, r.Run(context.Background(), garbled), ErrRuntimeFailed)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatMsgpack, FormatOf("/parm/params_x.msgpack"))
	assert.Equal(t, FormatJSON, FormatOf("/parm/params_x.json"))
}

func TestRunnerSurfacesExitStatus(t *testing.T) {
	script := writeScript(t, "echo broken >&2\nexit 3\n")

	r, err := NewRunner([]string{script}, "", "", nil)
	require.NoError(t, err)

	err = r.Run(context.Background(), writeParams(t, FormatJSON))
	require.ErrorIs(t, err, ErrRuntimeFailed)
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestRunnerMissingCommand(t *testing.T) {
	_, err := NewRunner(nil, "", "", nil)
	require.Error(t, err)

	_, err = NewRunner([]string{"Rscript"}, "", "soon", nil)
	require.Error(t, err)

	r, err := NewRunner([]string{filepath.Join(t.TempDir(), "missing")}, "", "", nil)
	require.NoError(t, err)
	require.ErrorIs(t, r.Run(context.Background(), writeParams(t, FormatJSON)), ErrRuntimeFailed)
}
