package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/wrfhydro/snoweval/internal/log"
	"github.com/wrfhydro/snoweval/pkg/config"
)

const usage = `Usage: %s <command> [flags]

Commands:
  import   Load a YAML configuration into a SQLite registry
  list     List the model projects of a registry
  add      Add a model project to a SQLite registry
  remove   Remove a model project from a SQLite registry
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	if err := log.Init(false); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	var err error
	switch os.Args[1] {
	case "import":
		err = runImport(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "add":
		err = runAdd(os.Args[2:])
	case "remove":
		err = runRemove(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	yamlFile := fs.String("yaml", "", "Path to YAML configuration file (required)")
	sqliteFile := fs.String("sqlite", "", "Path to SQLite registry file (required)")
	force := fs.Bool("force", false, "Overwrite an existing SQLite registry")
	dryRun := fs.Bool("dry-run", false, "Show what would be done without executing")
	fs.Parse(args)

	if *yamlFile == "" || *sqliteFile == "" {
		fs.Usage()
		return fmt.Errorf("both -yaml and -sqlite are required")
	}
	if _, err := os.Stat(*sqliteFile); err == nil && !*force {
		return fmt.Errorf("SQLite file already exists: %s. Use -force to overwrite", *sqliteFile)
	}

	cfg, err := config.NewYAMLProvider(*yamlFile).LoadConfig()
	if err != nil {
		return fmt.Errorf("loading YAML configuration: %w", err)
	}
	if _, err := config.NewRegistry(cfg.Projects); err != nil {
		return err
	}
	fmt.Printf("Loaded %d model projects from %s\n", len(cfg.Projects), *yamlFile)
	if *dryRun {
		printProjects(cfg.Projects)
		fmt.Println("DRY RUN complete - no registry written")
		return nil
	}

	if *force {
		if err := os.Remove(*sqliteFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing existing SQLite file: %w", err)
		}
	}
	provider, err := config.NewSQLiteProvider(*sqliteFile, log.GetSugaredLogger())
	if err != nil {
		return err
	}
	defer provider.Close()

	if err := provider.SaveConfig(cfg); err != nil {
		return fmt.Errorf("saving configuration: %w", err)
	}
	fmt.Printf("Registry written. Use it with: -config-backend sqlite -config %s\n", *sqliteFile)
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cfgFile := fs.String("config", "snoweval.db", "Registry source")
	cfgBackend := fs.String("config-backend", "sqlite", "Registry backend type: 'yaml' or 'sqlite'")
	fs.Parse(args)

	provider, err := config.NewProvider(*cfgFile, *cfgBackend, log.GetSugaredLogger())
	if err != nil {
		return err
	}
	defer provider.Close()

	projects, err := provider.GetProjects()
	if err != nil {
		return err
	}
	if sp, ok := provider.(*config.SQLiteProvider); ok {
		fmt.Printf("Registry schema version %d\n", sp.SchemaVersion())
	}
	printProjects(projects)
	return nil
}

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	dbFile := fs.String("config", "snoweval.db", "SQLite registry file")
	var p config.ProjectData
	fs.StringVar(&p.Alias, "alias", "", "Project alias (required)")
	fs.StringVar(&p.Tag, "tag", "", "Model tag (required)")
	fs.StringVar(&p.TopDir, "top-dir", "", "Top directory holding the project tree (required)")
	fs.StringVar(&p.ModelInDir, "model-in-dir", "", "Model output directory")
	fs.StringVar(&p.ForceInDir, "force-in-dir", "", "Forcing directory")
	fs.StringVar(&p.GeoFile, "geo-file", "", "Geogrid file")
	fs.StringVar(&p.FullDomFile, "full-dom-file", "", "High resolution routing domain file")
	fs.StringVar(&p.RouteLinkFile, "route-link-file", "", "Route link file")
	fs.Float64Var(&p.GeoRes, "geo-res", 0, "Geogrid resolution in meters")
	fs.IntVar(&p.Agg, "agg", 1, "Aggregation factor")
	fs.StringVar(&p.MaskFile, "mask-file", "", "Mask file")
	fs.StringVar(&p.BasinSubFile, "basin-sub-file", "", "Basin subset file")
	fs.StringVar(&p.SnowNetSubFile, "snow-net-sub-file", "", "Snow network subset file")
	fs.StringVar(&p.SnodasPath, "snodas-path", "", "SNODAS directory")
	snowDSN := fs.String("snow-db", "", "Snow database connection string for this project")
	snowBackend := fs.String("snow-db-backend", "postgres", "Snow database backend")
	ensembles := fs.String("ensembles", "", "Comma-separated ensemble members")
	ensembleTags := fs.String("ensemble-tags", "", "Comma-separated ensemble tags")
	fs.Parse(args)

	if *snowDSN != "" {
		p.SnowDB = &config.StoreData{Backend: *snowBackend, ConnectionString: *snowDSN}
	}
	p.Ensembles = splitList(*ensembles)
	p.EnsembleTags = splitList(*ensembleTags)

	provider, err := config.NewSQLiteProvider(*dbFile, log.GetSugaredLogger())
	if err != nil {
		return err
	}
	defer provider.Close()

	if err := provider.AddProject(&p); err != nil {
		return err
	}
	fmt.Printf("Added model project %s\n", p.Alias)
	return nil
}

func runRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	dbFile := fs.String("config", "snoweval.db", "SQLite registry file")
	alias := fs.String("alias", "", "Project alias (required)")
	fs.Parse(args)

	if *alias == "" {
		fs.Usage()
		return fmt.Errorf("-alias is required")
	}
	provider, err := config.NewSQLiteProvider(*dbFile, log.GetSugaredLogger())
	if err != nil {
		return err
	}
	defer provider.Close()

	if err := provider.DeleteProject(*alias); err != nil {
		return err
	}
	fmt.Printf("Removed model project %s\n", *alias)
	return nil
}

func printProjects(projects []config.ProjectData) {
	fmt.Printf("%-12s | %-10s | %-40s | %-8s | %s\n", "Alias", "Tag", "Top directory", "Snow DB", "Ensembles")
	fmt.Printf("-------------+------------+------------------------------------------+----------+----------\n")
	for _, p := range projects {
		snowDB := "no"
		if p.SnowDB != nil {
			snowDB = p.SnowDB.Backend
		}
		fmt.Printf("%-12s | %-10s | %-40s | %-8s | %s\n", p.Alias, p.Tag, p.TopDir, snowDB, strings.Join(p.Ensembles, ","))
	}
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
