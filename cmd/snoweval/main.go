package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/wrfhydro/snoweval/internal/app"
	"github.com/wrfhydro/snoweval/internal/discovery"
	"github.com/wrfhydro/snoweval/internal/log"
	"github.com/wrfhydro/snoweval/internal/observability"
	evalrt "github.com/wrfhydro/snoweval/internal/runtime"
	"github.com/wrfhydro/snoweval/internal/staging"
	"github.com/wrfhydro/snoweval/internal/stations"
	"github.com/wrfhydro/snoweval/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	projects := flag.String("projects", "", "Comma-separated model project aliases; the first is the primary project")
	begDate := flag.String("begADate", "", "Beginning date of the analysis, YYYYMMDDHH")
	endDate := flag.String("endADate", "", "Ending date of the analysis, YYYYMMDDHH")
	jobName := flag.String("jobName", "", "Job directory name under the primary project")
	snRead := flag.Int("snRead", 0, "Snow read product, 1-6")
	snRun := flag.Int("snRun", 0, "Snow analysis product, 1-12")
	pad := flag.Int("pad", 0, "Padding steps for plotting")
	subset := flag.Bool("subset", false, "Subset basins with the project's basin subset file")
	snowNet := flag.Bool("snowNet", false, "Subset snow database stations with the project's network file")
	bsnMskFile := flag.String("bsnMskFile", "", "Basin mask file for aggregated snow reads")
	inFile := flag.String("inFile", "", "Observation point file for point snow reads")
	parmDir := flag.String("parm-dir", "./parm", "Working directory that receives per-run parameter links")
	cfgFile := flag.String("config", "snoweval.yaml", "Configuration source holding the model project registry")
	cfgBackend := flag.String("config-backend", "yaml", "Configuration backend type: 'yaml' or 'sqlite'")
	primary := flag.Bool("primary", true, "Perform snow database extraction; non-primary workers skip or wait")
	logFile := flag.String("log-file", "", "Also write logs to this file, rotated by size")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("snoweval %s\n", version)
		os.Exit(0)
	}

	if err := log.InitWithFile(*debug, *logFile); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger := log.GetSugaredLogger()

	cfg, err := config.Load(*cfgFile, *cfgBackend, logger)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	registry, err := config.NewRegistry(cfg.Projects)
	if err != nil {
		log.Errorf("Invalid model project registry: %v", err)
		os.Exit(1)
	}

	strategy, err := discovery.ParseStrategy(cfg.Extraction.DiscoveryStrategy)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	match, err := stations.ParseMatchMode(cfg.Extraction.StationMatch)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	format, err := evalrt.ParseFormat(cfg.Runtime.ParamFormat)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	var wait time.Duration
	if cfg.Extraction.WaitTimeout != "" {
		if wait, err = time.ParseDuration(cfg.Extraction.WaitTimeout); err != nil {
			log.Errorf("invalid wait timeout %q: %v", cfg.Extraction.WaitTimeout, err)
			os.Exit(1)
		}
	}

	metrics := observability.NewMetrics()
	ev := &app.Evaluation{
		Registry:    registry,
		GlobalStore: cfg.Store,
		MatchMode:   match,
		Strategy:    strategy,
		Stager:      staging.NewStager(*parmDir, format, logger),
		IsPrimary:   *primary,
		WaitTimeout: wait,
		Metrics:     metrics,
		Logger:      logger,
	}
	if len(cfg.Runtime.Command) > 0 {
		runner, err := evalrt.NewRunner(cfg.Runtime.Command, cfg.Runtime.WorkDir, cfg.Runtime.Timeout, logger)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		ev.Handoff = runner
	}

	aliases := flag.Args()
	if *projects != "" {
		aliases = strings.Split(*projects, ",")
	}
	if len(aliases) == 0 {
		log.Errorf("No model project given; registered projects: %s", strings.Join(registry.Aliases(), ", "))
		os.Exit(1)
	}
	args := app.EvalArgs{
		Aliases:   aliases,
		BeginDate: *begDate,
		EndDate:   *endDate,
		JobName:   *jobName,
		SnowRead:  *snRead,
		SnowRun:   *snRun,
		Pad:       *pad,
		Subset:    *subset,
		SnowNet:   *snowNet,
		BasinMask: *bsnMskFile,
		ObsFile:   *inFile,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, runErr := ev.Run(ctx, args)
	if cfg.Metrics.PushgatewayURL != "" {
		job := cfg.Metrics.Job
		if job == "" {
			job = "snoweval"
		}
		if err := metrics.Push(context.Background(), cfg.Metrics.PushgatewayURL, job); err != nil {
			log.Warnf("%v", err)
		}
	}
	if runErr != nil {
		log.Errorf("Evaluation failed: %v", runErr)
		log.Sync()
		os.Exit(1)
	}

	log.Infow("evaluation run complete", "run", out.RunID, "params", out.ParamPath,
		"observations", out.ObservationsPath)
}
