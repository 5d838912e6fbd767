package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrfhydro/snoweval/internal/discovery"
	"github.com/wrfhydro/snoweval/internal/obsstore"
	"github.com/wrfhydro/snoweval/internal/runtime"
	"github.com/wrfhydro/snoweval/internal/staging"
	"github.com/wrfhydro/snoweval/pkg/config"
)

func TestEvalArgsValidate(t *testing.T) {
	valid := EvalArgs{Aliases: []string{"conus"}, BeginDate: "2020010500", EndDate: "2020011000"}

	tests := []struct {
		name   string
		modify func(a *EvalArgs)
	}{
		{"no aliases", func(a *EvalArgs) { a.Aliases = nil }},
		{"begin without end", func(a *EvalArgs) { a.EndDate = "" }},
		{"end without begin", func(a *EvalArgs) { a.BeginDate = "" }},
		{"short date", func(a *EvalArgs) { a.BeginDate = "20200105" }},
		{"minute date", func(a *EvalArgs) { a.EndDate = "202001100000" }},
		{"inverted dates", func(a *EvalArgs) { a.BeginDate, a.EndDate = a.EndDate, a.BeginDate }},
		{"read out of range", func(a *EvalArgs) { a.SnowRead = 7 }},
		{"analysis out of range", func(a *EvalArgs) { a.SnowRun = 13 }},
		{"negative pad", func(a *EvalArgs) { a.Pad = -1 }},
		{"basin read without mask", func(a *EvalArgs) { a.SnowRead = 5 }},
		{"point read without observations", func(a *EvalArgs) { a.SnowRead = 1 }},
		{"read without dates", func(a *EvalArgs) {
			a.BeginDate, a.EndDate = "", ""
			a.SnowRun = 1
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.modify(&a)
			_, err := a.Validate()
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	w, err := valid.Validate()
	require.NoError(t, err)
	assert.Equal(t, at(5, 0), w.Start)

	basin := valid
	basin.SnowRead, basin.BasinMask = 5, "/domain/basins.nc"
	_, err = basin.Validate()
	require.NoError(t, err)
}

func TestLookupProducts(t *testing.T) {
	read, ok := LookupRead(4)
	require.True(t, ok)
	assert.True(t, read.Point && read.Basin && read.Snodas)
	_, ok = LookupRead(0)
	assert.False(t, ok)

	tests := []struct {
		flag   int
		kind   string
		needs  string
		plot   bool
		stream bool
	}{
		{1, "PT_SNOW_STAT", "SNOW_POINT_MODEL", false, false},
		{2, "PT_SNOW_STAT", "SNOW_POINT_MODEL", true, false},
		{6, "PT_SNOW_BAS_STAT", "SNOW_BASIN_MODEL", true, false},
		{9, "SNOW_SNODAS_BAS_STAT", "SNOW_BASIN_MODEL_SNODAS", false, false},
		{12, "SNOW_SNODAS_BAS_STREAM_STAT", "SNOW_BASIN_MODEL_SNODAS", true, true},
	}
	for _, tt := range tests {
		an, ok := LookupAnalysis(tt.flag)
		require.True(t, ok, tt.flag)
		assert.Equal(t, tt.kind, an.Kind, tt.flag)
		assert.Equal(t, tt.needs, an.Needs, tt.flag)
		assert.Equal(t, tt.plot, an.Plot, tt.flag)
		assert.Equal(t, tt.stream, an.Stream, tt.flag)
	}

	_, ok = LookupAnalysis(0)
	assert.False(t, ok)
	_, ok = LookupAnalysis(13)
	assert.False(t, ok)
}

func TestCheckProjects(t *testing.T) {
	primary := config.ProjectData{Alias: "conus", Tag: "NWM", TopDir: "/x", Ensembles: []string{"m1", "m2"}}
	other := config.ProjectData{Alias: "retro", Tag: "R", TopDir: "/x"}

	require.ErrorIs(t, checkProjects([]config.ProjectData{primary, other}, EvalArgs{}), ErrValidation)
	require.NoError(t, checkProjects([]config.ProjectData{primary}, EvalArgs{}))
	require.ErrorIs(t, checkProjects([]config.ProjectData{other}, EvalArgs{SnowRead: 2}), ErrValidation)
	require.ErrorIs(t, checkProjects([]config.ProjectData{other}, EvalArgs{Subset: true}), ErrValidation)
	require.ErrorIs(t, checkProjects([]config.ProjectData{other}, EvalArgs{SnowNet: true}), ErrValidation)
}

func TestStoreConfig(t *testing.T) {
	global := config.StoreData{Backend: "postgres", ConnectionString: "postgres://global", SWETable: "SWE"}
	cfg := StoreConfig(global, &config.StoreData{ConnectionString: "postgres://project"})
	assert.Equal(t, "postgres", cfg.Backend)
	assert.Equal(t, "postgres://project", cfg.ConnectionString)
	assert.Equal(t, "SWE", cfg.Tables.SWE)

	assert.Equal(t, "postgres://global", StoreConfig(global, nil).ConnectionString)
}

type evalFixture struct {
	top     string
	layout  staging.Layout
	handoff *recordingHandoff
	eval    *Evaluation
	// advance moves the staging clock so repeated runs get distinct parameter files.
	advance func()
}

func newEvalFixture(t *testing.T, projects ...config.ProjectData) *evalFixture {
	t.Helper()
	top := t.TempDir()
	for i := range projects {
		projects[i].TopDir = top
	}
	reg, err := config.NewRegistry(projects)
	require.NoError(t, err)

	stager := staging.NewStager(filepath.Join(t.TempDir(), "parm"), runtime.FormatJSON, nil)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC))
	stager.Clock = clock

	f := &evalFixture{
		top:     top,
		layout:  staging.Layout{TopDir: top, Alias: projects[0].Alias},
		handoff: &recordingHandoff{},
		advance: func() { clock.Advance(time.Second) },
	}
	f.eval = &Evaluation{
		Registry:  reg,
		Strategy:  discovery.FirstMatch,
		Stager:    stager,
		Handoff:   f.handoff,
		IsPrimary: true,
	}
	require.NoError(t, os.MkdirAll(f.layout.StatDir(), 0o755))
	return f
}

func (f *evalFixture) touch(t *testing.T, start, end time.Time, tags ...string) string {
	t.Helper()
	path := filepath.Join(f.layout.StatDir(), discovery.Name(start, end, tags, discovery.DefaultExt))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func conus() config.ProjectData {
	return config.ProjectData{Alias: "conus", Tag: "NWM", GeoFile: "/domain/geo_em.d01.nc", GeoRes: 1000, Agg: 1}
}

func TestEvaluationFindsReadFile(t *testing.T) {
	f := newEvalFixture(t, conus())
	readFile := f.touch(t, at(1, 0), at(31, 23), "conus", "SNOW", "POINT", "MODEL")
	f.touch(t, at(1, 0), at(31, 23), "conus", "SNOW", "POINT", "MODEL", "SNODAS")

	out, err := f.eval.Run(context.Background(), EvalArgs{
		Aliases: []string{"conus"}, BeginDate: "2020010500", EndDate: "2020011000", JobName: "job1", SnowRun: 2,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Params.Analysis)
	assert.Equal(t, readFile, out.Params.Analysis.SnowReadFile)
	assert.True(t, out.Params.Analysis.Plot)
	assert.Equal(t, filepath.Join(f.layout.StatDir(), "202001050000_202001100000_conus_PT_SNOW_STAT.Rdata"),
		out.Params.Analysis.OutputPath)
	assert.Equal(t, []string{"NWM"}, out.Params.Tags)
	assert.Equal(t, f.layout.JobDir("job1"), out.Params.JobDir)
	assert.Empty(t, out.ObservationsPath)

	require.Len(t, f.handoff.paths, 1)
	assert.NoFileExists(t, f.handoff.paths[0], "run link is removed after the run")
	got, err := runtime.ReadParamFile(out.ParamPath, runtime.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, out.RunID, got.RunID)
}

func TestEvaluationMissingReadFile(t *testing.T) {
	f := newEvalFixture(t, conus())
	f.touch(t, at(6, 0), at(31, 23), "conus", "SNOW", "POINT", "MODEL")

	_, err := f.eval.Run(context.Background(), EvalArgs{
		Aliases: []string{"conus"}, BeginDate: "2020010500", EndDate: "2020011000", SnowRun: 1,
	})
	require.ErrorIs(t, err, ErrMissingFile)
	require.ErrorIs(t, err, discovery.ErrNotFound)
	assert.Empty(t, f.handoff.paths)
}

func TestEvaluationUsesReadFromSameRun(t *testing.T) {
	f := newEvalFixture(t, conus())

	out, err := f.eval.Run(context.Background(), EvalArgs{
		Aliases: []string{"conus"}, BeginDate: "2020010500", EndDate: "2020011000",
		SnowRead: 1, SnowRun: 1, ObsFile: "/obs/points.txt",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Params.Read)
	assert.Equal(t, out.Params.Read.OutputPath, out.Params.Analysis.SnowReadFile)
	assert.Equal(t, "/obs/points.txt", out.Params.PointObsFile)
}

func TestEvaluationIgnoresReadOfAnotherProduct(t *testing.T) {
	proj := conus()
	proj.SnodasPath = "/snodas"
	f := newEvalFixture(t, proj)
	args := EvalArgs{
		Aliases: []string{"conus"}, BeginDate: "2020010500", EndDate: "2020011000",
		SnowRead: 2, SnowRun: 1, ObsFile: "/obs/points.txt",
	}

	_, err := f.eval.Run(context.Background(), args)
	require.ErrorIs(t, err, ErrMissingFile)

	pointRead := f.touch(t, at(1, 0), at(31, 23), "conus", "SNOW", "POINT", "MODEL")
	f.advance()
	out, err := f.eval.Run(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, pointRead, out.Params.Analysis.SnowReadFile)
	assert.Equal(t, "/snodas", out.Params.SnodasPath)
}

func TestEvaluationStreamReadFile(t *testing.T) {
	f := newEvalFixture(t, conus())
	f.touch(t, at(1, 0), at(31, 23), "conus", "SNOW", "BASIN", "MODEL", "SNODAS")
	stream := f.touch(t, at(1, 0), at(31, 23), "conus", "CHRTOUT")

	out, err := f.eval.Run(context.Background(), EvalArgs{
		Aliases: []string{"conus"}, BeginDate: "2020010500", EndDate: "2020011000", SnowRun: 11,
	})
	require.NoError(t, err)
	assert.Equal(t, stream, out.Params.Analysis.StreamReadFile)
	assert.True(t, out.Params.Analysis.Region)

	require.NoError(t, os.Remove(stream))
	f.advance()
	_, err = f.eval.Run(context.Background(), EvalArgs{
		Aliases: []string{"conus"}, BeginDate: "2020010500", EndDate: "2020011000", SnowRun: 11,
	})
	require.ErrorIs(t, err, ErrMissingFile)
}

func TestEvaluationExtractsObservations(t *testing.T) {
	proj := conus()
	proj.SnowDB = &config.StoreData{Backend: "sqlite", ConnectionString: "/data/snow.db"}
	f := newEvalFixture(t, proj, config.ProjectData{Alias: "retro", Tag: "R"})

	store := seededStore()
	var gotCfg obsstore.Config
	f.eval.Stores = func(cfg obsstore.Config) StoreOpener {
		gotCfg = cfg
		return func(context.Context) (obsstore.Store, error) { return store, nil }
	}

	args := EvalArgs{Aliases: []string{"conus", "retro"}, BeginDate: "2020010100", EndDate: "2020011000"}
	out, err := f.eval.Run(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, "/data/snow.db", gotCfg.ConnectionString)
	assert.Equal(t, filepath.Join(f.layout.StatDir(), "SNOW_DB_OBS_2020010100_2020011000_NETALL_SUBALL.nc"), out.ObservationsPath)
	assert.FileExists(t, out.ObservationsPath)
	assert.True(t, store.isClosed())
	assert.Equal(t, []string{"conus", "retro"}, out.Params.Aliases)

	link := filepath.Join(f.top, "retro", "namelists", filepath.Base(out.ParamPath))
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, out.ParamPath, target)

	// A second run reuses the observation file.
	f.advance()
	out2, err := f.eval.Run(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, out.ObservationsPath, out2.ObservationsPath)
}

func TestEvaluationNonPrimaryWithoutWait(t *testing.T) {
	proj := conus()
	proj.SnowDB = &config.StoreData{Backend: "sqlite", ConnectionString: "/data/snow.db"}
	f := newEvalFixture(t, proj)
	f.eval.IsPrimary = false
	opener := &countingOpener{store: seededStore()}
	f.eval.Stores = func(obsstore.Config) StoreOpener { return opener.open }

	out, err := f.eval.Run(context.Background(), EvalArgs{
		Aliases: []string{"conus"}, BeginDate: "2020010100", EndDate: "2020011000",
	})
	require.NoError(t, err)
	assert.Empty(t, out.ObservationsPath)
	assert.Empty(t, out.Params.ObservationsNC)
	assert.Zero(t, opener.calls)
	assert.NoFileExists(t, filepath.Join(f.layout.StatDir(), "SNOW_DB_OBS_2020010100_2020011000_NETALL_SUBALL.nc"))

	got, err := runtime.ReadParamFile(out.ParamPath, runtime.FormatJSON)
	require.NoError(t, err)
	assert.Empty(t, got.ObservationsNC)
}

func TestEvaluationUnknownProject(t *testing.T) {
	f := newEvalFixture(t, conus())
	_, err := f.eval.Run(context.Background(), EvalArgs{Aliases: []string{"conus", "nope"}})
	require.ErrorIs(t, err, config.ErrUnknownProject)
}
