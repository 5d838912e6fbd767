package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Environment variables that override stored values. Secrets are kept out of
// configuration files this way.
const (
	EnvStoreDSN     = "SNOWDB_DSN"
	EnvStoreBackend = "SNOWDB_BACKEND"
	EnvPushgateway  = "SNOWEVAL_PUSHGATEWAY"
)

// Validate checks the fields every project needs.
func (p *ProjectData) Validate() error {
	if p.Alias == "" {
		return fmt.Errorf("project alias is required")
	}
	if p.Tag == "" {
		return fmt.Errorf("project %s: tag is required", p.Alias)
	}
	if p.TopDir == "" {
		return fmt.Errorf("project %s: top directory is required", p.Alias)
	}
	if p.SnowDB != nil && p.GeoFile == "" {
		return fmt.Errorf("project %s: a geogrid file is required when a snow database is set", p.Alias)
	}
	if len(p.EnsembleTags) > 0 && len(p.EnsembleTags) != len(p.Ensembles) {
		return fmt.Errorf("project %s: %d ensemble tags for %d ensemble members",
			p.Alias, len(p.EnsembleTags), len(p.Ensembles))
	}
	return nil
}

// Registry indexes model projects by alias.
type Registry struct {
	projects map[string]ProjectData
	aliases  []string
}

// NewRegistry validates projects and rejects duplicate aliases.
func NewRegistry(projects []ProjectData) (*Registry, error) {
	r := &Registry{projects: make(map[string]ProjectData, len(projects))}
	for i := range projects {
		p := projects[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.projects[p.Alias]; dup {
			return nil, fmt.Errorf("project alias %s is registered twice", p.Alias)
		}
		r.projects[p.Alias] = p
		r.aliases = append(r.aliases, p.Alias)
	}
	return r, nil
}

// Aliases returns the registered aliases in registration order.
func (r *Registry) Aliases() []string {
	return append([]string(nil), r.aliases...)
}

// Resolve returns the projects for aliases in the requested order. The first entry is the
// primary project. The first unknown alias is reported with ErrUnknownProject.
func (r *Registry) Resolve(aliases []string) ([]ProjectData, error) {
	if len(aliases) == 0 {
		return nil, fmt.Errorf("%w: no model project given", ErrUnknownProject)
	}
	out := make([]ProjectData, 0, len(aliases))
	for _, a := range aliases {
		p, ok := r.projects[a]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProject, a)
		}
		out = append(out, p)
	}
	return out, nil
}

// NewProvider opens a configuration source. backend is "yaml" or "sqlite".
func NewProvider(path, backend string, logger *zap.SugaredLogger) (ConfigProvider, error) {
	filename, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	switch backend {
	case "yaml":
		return NewYAMLProvider(filename), nil
	case "sqlite":
		provider, err := NewSQLiteProvider(filename, logger)
		if err != nil {
			return nil, fmt.Errorf("error creating SQLite provider: %w", err)
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported configuration backend: %s. Use 'yaml' or 'sqlite'", backend)
	}
}

// Load reads the whole configuration and applies environment overrides.
func Load(path, backend string, logger *zap.SugaredLogger) (*ConfigData, error) {
	provider, err := NewProvider(path, backend, logger)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	cfgData, err := provider.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error reading config file. Did you pass the -config flag? Run with -h for help: %w", err)
	}

	ApplyEnv(cfgData)
	return cfgData, nil
}

// ApplyEnv overrides the global store and metrics settings from the environment.
func ApplyEnv(cfg *ConfigData) {
	if v := os.Getenv(EnvStoreDSN); v != "" {
		cfg.Store.ConnectionString = v
	}
	if v := os.Getenv(EnvStoreBackend); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv(EnvPushgateway); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
}
