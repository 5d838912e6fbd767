package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/wrfhydro/snoweval/internal/app"
	"github.com/wrfhydro/snoweval/internal/extract"
	"github.com/wrfhydro/snoweval/internal/log"
	"github.com/wrfhydro/snoweval/internal/observability"
	evalrt "github.com/wrfhydro/snoweval/internal/runtime"
	"github.com/wrfhydro/snoweval/internal/stations"
	"github.com/wrfhydro/snoweval/internal/window"
	"github.com/wrfhydro/snoweval/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	begDate := flag.String("begRDate", "", "Beginning date of the extraction window, YYYYMMDDHH")
	endDate := flag.String("endRDate", "", "Ending date of the extraction window, YYYYMMDDHH")
	outDir := flag.String("outDir", "", "Absolute path of the output directory (required)")
	geoFile := flag.String("geoFile", "", "Geogrid file passed on to the statistical runtime (required)")
	netList := flag.String("netList", "", "Subsetting file with a 'network' column")
	stnList := flag.String("stnList", "", "Subsetting file with a 'uniqueID' column")
	mskFile := flag.String("mskFile", "", "Optional basin mask file passed on to the statistical runtime")
	tags := flag.String("tags", "", "Comma-separated tags appended to the output file name")
	cfgFile := flag.String("config", "", "Optional configuration source (YAML file or SQLite database)")
	cfgBackend := flag.String("config-backend", "yaml", "Configuration backend type: 'yaml' or 'sqlite'")
	storeBackend := flag.String("store-backend", "", "Observation store backend: 'postgres' or 'sqlite' (overrides config)")
	storeDSN := flag.String("store-dsn", "", "Observation store connection string (overrides config and "+config.EnvStoreDSN+")")
	emptyPolicy := flag.String("empty-policy", "", "What to do when no observations are found: 'warn' or 'fail' (default 'fail')")
	stationMatch := flag.String("station-match", "", "Station list matching: 'exact' or 'legacy-substring'")
	primary := flag.Bool("primary", true, "Perform the extraction; non-primary workers skip or wait")
	wait := flag.Duration("wait", 0, "Non-primary workers wait this long for the primary's file")
	handoff := flag.Bool("run", false, "Hand the written file to the configured statistical runtime")
	schedule := flag.String("schedule", "", "Cron schedule; extract the trailing -window on every tick until interrupted")
	trailing := flag.Duration("window", 24*time.Hour, "Trailing window extracted on each scheduled tick")
	logFile := flag.String("log-file", "", "Also write logs to this file, rotated by size")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("snowdb-extract %s\n", version)
		os.Exit(0)
	}

	if err := log.InitWithFile(*debug, *logFile); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger := log.GetSugaredLogger()

	cfg, err := loadConfig(*cfgFile, *cfgBackend)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if *storeBackend != "" {
		cfg.Store.Backend = *storeBackend
	}
	if *storeDSN != "" {
		cfg.Store.ConnectionString = *storeDSN
	}

	sub, err := loadSubsetting(*netList, *stnList, firstNonEmpty(*stationMatch, cfg.Extraction.StationMatch))
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	policy, err := extract.ParseEmptyPolicy(firstNonEmpty(*emptyPolicy, cfg.Extraction.EmptyPolicy, "fail"))
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	waitTimeout := *wait
	if waitTimeout == 0 && cfg.Extraction.WaitTimeout != "" {
		if waitTimeout, err = time.ParseDuration(cfg.Extraction.WaitTimeout); err != nil {
			log.Errorf("invalid wait timeout %q: %v", cfg.Extraction.WaitTimeout, err)
			os.Exit(1)
		}
	}

	metrics := observability.NewMetrics()
	ex := app.NewExtraction(app.OpenerFor(app.StoreConfig(cfg.Store, nil), logger), logger)
	ex.EmptyPolicy = policy
	ex.WaitTimeout = waitTimeout
	ex.Metrics = metrics

	if *handoff {
		runner, err := evalrt.NewRunner(cfg.Runtime.Command, cfg.Runtime.WorkDir, cfg.Runtime.Timeout, logger)
		if err != nil {
			log.Errorf("Cannot hand off to the statistical runtime: %v", err)
			os.Exit(1)
		}
		format, err := evalrt.ParseFormat(cfg.Runtime.ParamFormat)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		ex.Handoff = runner
		ex.ParamFormat = format
	}

	req := app.Request{
		OutputDir:  *outDir,
		GeoFile:    *geoFile,
		MaskFile:   *mskFile,
		Subsetting: sub,
		Tags:       splitList(*tags),
		IsPrimary:  *primary,
	}

	if *schedule != "" {
		scheduler, err := app.NewScheduler(*schedule, *trailing, ex, req, logger)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		application := app.New(scheduler, metrics, cfg.Metrics.PushgatewayURL, firstNonEmpty(cfg.Metrics.Job, "snowdb-extract"), logger)
		if err := application.Run(context.Background()); err != nil {
			log.Errorf("Application error: %v", err)
			os.Exit(1)
		}
		return
	}

	if *begDate == "" || *endDate == "" {
		log.Errorf("both -begRDate and -endRDate are required unless -schedule is given")
		os.Exit(1)
	}
	if req.Window, err = window.ParseHours(*begDate, *endDate); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, runErr := ex.Run(ctx, req)
	if cfg.Metrics.PushgatewayURL != "" {
		if err := metrics.Push(context.Background(), cfg.Metrics.PushgatewayURL, firstNonEmpty(cfg.Metrics.Job, "snowdb-extract")); err != nil {
			log.Warnf("%v", err)
		}
	}
	if runErr != nil {
		switch {
		case errors.Is(runErr, app.ErrValidation):
			log.Errorf("Invalid arguments: %v", runErr)
		default:
			log.Errorf("Extraction failed: %v", runErr)
		}
		log.Sync()
		os.Exit(1)
	}
	if out.Skipped {
		log.Infof("Not the primary worker, nothing written")
		return
	}
	log.Infof("Snow observations available at %s", out.Path)
}

func loadConfig(cfgFile, cfgBackend string) (*config.ConfigData, error) {
	if cfgFile == "" {
		cfg := &config.ConfigData{}
		config.ApplyEnv(cfg)
		return cfg, nil
	}
	return config.Load(cfgFile, cfgBackend, log.GetSugaredLogger())
}

func loadSubsetting(netList, stnList, match string) (stations.Subsetting, error) {
	var sub stations.Subsetting
	if netList != "" && stnList != "" {
		return sub, fmt.Errorf("%w: choose either station subsetting or network subsetting", stations.ErrValidation)
	}

	mode, err := stations.ParseMatchMode(match)
	if err != nil {
		return sub, err
	}
	sub.Mode = mode

	switch {
	case netList != "":
		sub.Networks, err = stations.LoadNetworks(netList)
	case stnList != "":
		sub.Stations, err = stations.LoadStations(stnList)
	}
	if err != nil {
		return sub, err
	}
	if (netList != "" || stnList != "") && !sub.Active() {
		return sub, fmt.Errorf("%w: zero length subsetting list", stations.ErrValidation)
	}
	return sub, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
