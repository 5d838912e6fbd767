package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wrfhydro/snoweval/internal/artifact"
	"github.com/wrfhydro/snoweval/internal/discovery"
	"github.com/wrfhydro/snoweval/internal/extract"
	"github.com/wrfhydro/snoweval/internal/observability"
	"github.com/wrfhydro/snoweval/internal/obsstore"
	"github.com/wrfhydro/snoweval/internal/runtime"
	"github.com/wrfhydro/snoweval/internal/staging"
	"github.com/wrfhydro/snoweval/internal/stations"
	"github.com/wrfhydro/snoweval/internal/window"
	"github.com/wrfhydro/snoweval/pkg/config"
)

// EvalArgs are the options of one evaluation run. Zero flags mean "not requested".
type EvalArgs struct {
	Aliases   []string
	BeginDate string
	EndDate   string
	JobName   string
	SnowRead  int
	SnowRun   int
	Pad       int
	Subset    bool
	SnowNet   bool
	BasinMask string
	ObsFile   string
}

// Validate checks the arguments that do not depend on the project registry and returns the
// analysis window. The window is zero when no dates were given.
func (a EvalArgs) Validate() (window.Window, error) {
	var w window.Window
	if len(a.Aliases) == 0 {
		return w, fmt.Errorf("%w: at least one model project is required", ErrValidation)
	}

	switch {
	case a.BeginDate != "" && a.EndDate == "":
		return w, fmt.Errorf("%w: an end date must accompany the begin date", ErrValidation)
	case a.EndDate != "" && a.BeginDate == "":
		return w, fmt.Errorf("%w: a begin date must accompany the end date", ErrValidation)
	case a.BeginDate != "":
		if len(a.BeginDate) != 10 || len(a.EndDate) != 10 {
			return w, fmt.Errorf("%w: dates must be YYYYMMDDHH", ErrValidation)
		}
		var err error
		if w, err = window.ParseHours(a.BeginDate, a.EndDate); err != nil {
			return w, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}

	if a.SnowRead < 0 || a.SnowRead > len(readProducts) {
		return w, fmt.Errorf("%w: invalid snow read value %d", ErrValidation, a.SnowRead)
	}
	if a.SnowRun < 0 || a.SnowRun > 12 {
		return w, fmt.Errorf("%w: invalid snow analysis value %d", ErrValidation, a.SnowRun)
	}
	if a.Pad < 0 {
		return w, fmt.Errorf("%w: padding value must not be negative", ErrValidation)
	}
	if (a.SnowRead > 0 || a.SnowRun > 0) && w.Start.IsZero() {
		return w, fmt.Errorf("%w: snow reads and analyses need begin and end dates", ErrValidation)
	}

	if read, ok := LookupRead(a.SnowRead); ok {
		if read.NeedsMask() && a.BasinMask == "" {
			return w, fmt.Errorf("%w: a basin mask file is necessary to aggregate snow values", ErrValidation)
		}
		if read.NeedsObservations() && a.ObsFile == "" {
			return w, fmt.Errorf("%w: an observation point file is necessary for point reads", ErrValidation)
		}
	}
	return w, nil
}

// checkProjects applies the argument rules that depend on the primary project.
func checkProjects(projects []config.ProjectData, a EvalArgs) error {
	primary := projects[0]
	if len(projects) > 1 && len(primary.Ensembles) > 1 {
		return fmt.Errorf("%w: cannot perform cross model analysis with ensembles", ErrValidation)
	}
	if read, ok := LookupRead(a.SnowRead); ok && read.Snodas && primary.SnodasPath == "" {
		return fmt.Errorf("%w: project %s has no SNODAS path", ErrValidation, primary.Alias)
	}
	if a.Subset && primary.BasinSubFile == "" {
		return fmt.Errorf("%w: project %s has no basin subset file", ErrValidation, primary.Alias)
	}
	if a.SnowNet && primary.SnowNetSubFile == "" {
		return fmt.Errorf("%w: project %s has no snow network subset file", ErrValidation, primary.Alias)
	}
	return nil
}

// StoreConfig merges a project's store settings over the global ones.
func StoreConfig(global config.StoreData, project *config.StoreData) obsstore.Config {
	s := global
	if project != nil {
		if project.Backend != "" {
			s.Backend = project.Backend
		}
		if project.ConnectionString != "" {
			s.ConnectionString = project.ConnectionString
		}
		if project.SWETable != "" {
			s.SWETable = project.SWETable
		}
		if project.SnowDepthTable != "" {
			s.SnowDepthTable = project.SnowDepthTable
		}
		if project.MetadataTable != "" {
			s.MetadataTable = project.MetadataTable
		}
	}
	return obsstore.Config{
		Backend:          s.Backend,
		ConnectionString: s.ConnectionString,
		Tables: obsstore.Tables{
			SWE:       s.SWETable,
			SnowDepth: s.SnowDepthTable,
			Metadata:  s.MetadataTable,
		},
	}
}

// EvalOutcome reports what an evaluation run staged and found.
type EvalOutcome struct {
	RunID            string
	ParamPath        string
	ObservationsPath string
	Params           *runtime.Params
}

// Evaluation stages an evaluation run for the statistical runtime.
type Evaluation struct {
	Registry    *config.Registry
	GlobalStore config.StoreData
	Stores      func(cfg obsstore.Config) StoreOpener
	MatchMode   stations.MatchMode
	Strategy    discovery.Strategy
	Stager      *staging.Stager
	Handoff     Handoff
	IsPrimary   bool
	WaitTimeout time.Duration
	Clock       clockwork.Clock
	Metrics     *observability.Metrics
	Logger      *zap.SugaredLogger
}

// Run validates args, extracts observations for the primary project when it has a snow
// database, resolves the read files the requested analysis needs, stages the parameter
// file and runs the runtime when one is configured.
func (ev *Evaluation) Run(ctx context.Context, args EvalArgs) (*EvalOutcome, error) {
	w, err := args.Validate()
	if err != nil {
		return nil, err
	}
	projects, err := ev.Registry.Resolve(args.Aliases)
	if err != nil {
		return nil, err
	}
	if err := checkProjects(projects, args); err != nil {
		return nil, err
	}

	layouts := make([]staging.Layout, len(projects))
	for i, p := range projects {
		layouts[i] = staging.Layout{TopDir: p.TopDir, Alias: p.Alias}
	}
	if err := staging.Prepare(layouts[0], args.JobName); err != nil {
		return nil, err
	}

	p := buildParams(projects, layouts[0], args, w)
	out := &EvalOutcome{Params: p}

	if !w.Start.IsZero() && projects[0].SnowDB != nil {
		path, err := ev.extractObservations(ctx, projects[0], layouts[0], args, w)
		if err != nil {
			return nil, err
		}
		out.ObservationsPath = path
		p.ObservationsNC = path
	}

	statDir := layouts[0].StatDir()
	read, hasRead := LookupRead(args.SnowRead)
	if hasRead {
		rp := readSection(read, args.SnowRead, filepath.Join(statDir, productName(w.Start, w.End, args.Aliases, read.Kind)))
		p.Read = &rp
		if read.Snodas {
			p.SnodasPath = projects[0].SnodasPath
		}
	}

	if analysis, ok := LookupAnalysis(args.SnowRun); ok {
		ap, err := ev.resolveAnalysis(analysis, args, w, statDir, p.Read)
		if err != nil {
			return nil, err
		}
		p.Analysis = ap
	}

	run := staging.Run{Window: w, Aliases: args.Aliases, SnowRead: args.SnowRead, SnowRun: args.SnowRun, Subset: args.Subset, Pad: args.Pad}
	staged, err := ev.Stager.Stage(layouts, run, p)
	if err != nil {
		return nil, err
	}
	out.RunID = staged.RunID
	out.ParamPath = staged.ParamPath

	if ev.Handoff == nil {
		ev.logger().Infof("no runtime configured, parameters staged at %s", staged.ParamPath)
		return out, staged.Cleanup()
	}
	defer func() {
		if err := staged.Cleanup(); err != nil {
			ev.logger().Warnf("%v", err)
		}
	}()

	start := ev.clock().Now()
	err = ev.Handoff.Run(ctx, staged.RunPath())
	if ev.Metrics != nil {
		ev.Metrics.ObserveStage("runtime", start, ev.clock().Now())
	}
	if err != nil {
		if ev.Metrics != nil {
			ev.Metrics.RuntimeFailures.Inc()
		}
		return out, err
	}
	return out, nil
}

func readSection(read ReadProduct, flag int, output string) runtime.ReadParams {
	return runtime.ReadParams{
		Product:    flag,
		Point:      read.Point,
		Basin:      read.Basin,
		Snodas:     read.Snodas,
		OutputPath: output,
	}
}

func buildParams(projects []config.ProjectData, primaryLayout staging.Layout, args EvalArgs, w window.Window) *runtime.Params {
	primary := projects[0]
	p := &runtime.Params{
		JobDir:        primaryLayout.JobDir(args.JobName),
		TmpDir:        primaryLayout.TmpDir(),
		StatDir:       primaryLayout.StatDir(),
		PlotDir:       primaryLayout.PlotDir(),
		GeoFile:       primary.GeoFile,
		FullDomFile:   primary.FullDomFile,
		RouteLinkFile: primary.RouteLinkFile,
		ReachRouting:  primary.RouteLinkFile != "",
		MaskFile:      primary.MaskFile,
		BasinMaskFile: args.BasinMask,
		GeoResolution: primary.GeoRes,
		Aggregation:   primary.Agg,
		PadSteps:      args.Pad,
		PointObsFile:  args.ObsFile,
		AnalysisStart: w.Start.UTC(),
		AnalysisEnd:   w.End.UTC(),
	}
	if args.Subset {
		p.BasinSubFile = primary.BasinSubFile
	}
	if len(primary.Ensembles) > 0 {
		p.ReadEnsemble = true
		p.Ensembles = primary.Ensembles
		p.EnsembleTags = primary.EnsembleTags
	}
	for _, proj := range projects {
		p.Aliases = append(p.Aliases, proj.Alias)
		p.Tags = append(p.Tags, proj.Tag)
		p.ModelPaths = append(p.ModelPaths, proj.ModelInDir)
		p.ForcingPaths = append(p.ForcingPaths, proj.ForceInDir)
	}
	return p
}

func (ev *Evaluation) resolveAnalysis(an AnalysisProduct, args EvalArgs, w window.Window, statDir string, read *runtime.ReadParams) (*runtime.AnalysisParams, error) {
	ap := &runtime.AnalysisParams{
		Product:    args.SnowRun,
		Point:      an.Point,
		Region:     an.Region,
		Plot:       an.Plot,
		OutputPath: filepath.Join(statDir, productName(w.Start, w.End, args.Aliases, an.Kind)),
	}

	ix := &discovery.Index{Root: statDir, Ext: discovery.DefaultExt, Strategy: ev.Strategy, Logger: ev.logger()}

	// A read requested in the same run produces the file the analysis needs.
	if read != nil {
		name, err := discovery.ParseName(filepath.Base(read.OutputPath), discovery.DefaultExt)
		if err == nil && slices.Equal(name.Tags, productTags(args.Aliases, an.Needs)) && name.Window().Covers(w) {
			ap.SnowReadFile = read.OutputPath
		}
	}
	if ap.SnowReadFile == "" {
		path, err := ix.FindCovering(w, productTags(args.Aliases, an.Needs))
		if err != nil {
			return nil, missing(err, "input model file for analysis "+strconv.Itoa(args.SnowRun))
		}
		ap.SnowReadFile = path
	}

	if an.Stream {
		var err error
		for _, kind := range streamKinds {
			var path string
			if path, err = ix.FindCovering(w, productTags(args.Aliases, kind)); err == nil {
				ap.StreamReadFile = path
				break
			}
		}
		if ap.StreamReadFile == "" {
			return nil, missing(err, "streamflow read file for analysis "+strconv.Itoa(args.SnowRun))
		}
	}
	return ap, nil
}

func missing(err error, what string) error {
	if errors.Is(err, discovery.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrMissingFile, what, err)
	}
	return err
}

func (ev *Evaluation) extractObservations(ctx context.Context, primary config.ProjectData, layout staging.Layout, args EvalArgs, w window.Window) (string, error) {
	sub := stations.Subsetting{Mode: ev.MatchMode}
	netTag, subTag := "NETALL", "SUBALL"
	if args.SnowNet {
		loaded, err := stations.LoadSubsetFile(primary.SnowNetSubFile)
		if err != nil {
			return "", err
		}
		sub.Networks, sub.Stations = loaded.Networks, loaded.Stations
		netTag = "NETSUB"
	}
	if args.Subset {
		subTag = "BASSUB"
	}

	stores := ev.Stores
	if stores == nil {
		stores = func(cfg obsstore.Config) StoreOpener { return OpenerFor(cfg, ev.logger()) }
	}
	ex := &Extraction{
		OpenStore:    stores(StoreConfig(ev.GlobalStore, primary.SnowDB)),
		EmptyPolicy:  extract.EmptyWarn,
		WaitTimeout:  ev.WaitTimeout,
		PollInterval: DefaultPollInterval,
		Clock:        ev.clock(),
		Metrics:      ev.Metrics,
		Logger:       ev.logger(),
	}
	req := Request{
		Window:     w,
		OutputDir:  layout.StatDir(),
		GeoFile:    primary.GeoFile,
		MaskFile:   primary.MaskFile,
		Subsetting: sub,
		Tags:       []string{netTag, subTag},
		IsPrimary:  ev.IsPrimary,
	}

	out, err := ex.Run(ctx, req)
	if errors.Is(err, artifact.ErrAlreadyExists) {
		ev.logger().Infof("using existing snow observations %s", out.Path)
		return out.Path, nil
	}
	if err != nil {
		return "", err
	}
	if out.Skipped {
		ev.logger().Warnf("not the primary worker and no wait configured, running without snow observations %s", out.Path)
		return "", nil
	}
	return out.Path, nil
}

func (ev *Evaluation) clock() clockwork.Clock {
	if ev.Clock == nil {
		ev.Clock = clockwork.NewRealClock()
	}
	return ev.Clock
}

func (ev *Evaluation) logger() *zap.SugaredLogger {
	if ev.Logger == nil {
		ev.Logger = zap.NewNop().Sugar()
	}
	return ev.Logger
}
