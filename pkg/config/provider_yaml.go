package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	var yamlConfig struct {
		Projects   []ProjectYAML  `yaml:"projects"`
		Store      StoreYAML      `yaml:"store,omitempty"`
		Runtime    RuntimeYAML    `yaml:"runtime,omitempty"`
		Extraction ExtractionYAML `yaml:"extraction,omitempty"`
		Metrics    MetricsYAML    `yaml:"metrics,omitempty"`
	}

	if err := yaml.UnmarshalStrict(cfgFile, &yamlConfig); err != nil {
		return nil, err
	}

	config := &ConfigData{
		Projects: make([]ProjectData, len(yamlConfig.Projects)),
		Store:    yamlConfig.Store.toData(),
		Runtime: RuntimeData{
			Command:     yamlConfig.Runtime.Command,
			ParamFormat: yamlConfig.Runtime.ParamFormat,
			WorkDir:     yamlConfig.Runtime.WorkDir,
			Timeout:     yamlConfig.Runtime.Timeout,
		},
		Extraction: ExtractionData{
			EmptyPolicy:       yamlConfig.Extraction.EmptyPolicy,
			DiscoveryStrategy: yamlConfig.Extraction.DiscoveryStrategy,
			StationMatch:      yamlConfig.Extraction.StationMatch,
			WaitTimeout:       yamlConfig.Extraction.WaitTimeout,
		},
		Metrics: MetricsData{
			PushgatewayURL: yamlConfig.Metrics.PushgatewayURL,
			Job:            yamlConfig.Metrics.Job,
		},
	}

	for i, p := range yamlConfig.Projects {
		config.Projects[i] = ProjectData{
			Alias:          p.Alias,
			Tag:            p.Tag,
			TopDir:         p.TopDir,
			ModelInDir:     p.ModelInDir,
			ForceInDir:     p.ForceInDir,
			GeoFile:        p.GeoFile,
			FullDomFile:    p.FullDomFile,
			RouteLinkFile:  p.RouteLinkFile,
			GeoRes:         p.GeoRes,
			Agg:            p.Agg,
			MaskFile:       p.MaskFile,
			BasinSubFile:   p.BasinSubFile,
			SnowNetSubFile: p.SnowNetSubFile,
			SnodasPath:     p.SnodasPath,
			Ensembles:      p.Ensembles,
			EnsembleTags:   p.EnsembleTags,
		}
		if p.SnowDB != nil {
			db := p.SnowDB.toData()
			config.Projects[i].SnowDB = &db
		}
	}

	y.config = config
	return config, nil
}

// GetProjects returns the model project registry entries
func (y *YAMLProvider) GetProjects() ([]ProjectData, error) {
	if y.config == nil {
		if _, err := y.LoadConfig(); err != nil {
			return nil, err
		}
	}
	return y.config.Projects, nil
}

// GetStoreConfig returns the observation store configuration
func (y *YAMLProvider) GetStoreConfig() (*StoreData, error) {
	if y.config == nil {
		if _, err := y.LoadConfig(); err != nil {
			return nil, err
		}
	}
	return &y.config.Store, nil
}

// GetRuntimeConfig returns the runtime configuration
func (y *YAMLProvider) GetRuntimeConfig() (*RuntimeData, error) {
	if y.config == nil {
		if _, err := y.LoadConfig(); err != nil {
			return nil, err
		}
	}
	return &y.config.Runtime, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with the kebab-case keys used in configuration files
type ProjectYAML struct {
	Alias          string     `yaml:"alias"`
	Tag            string     `yaml:"tag"`
	TopDir         string     `yaml:"top-dir"`
	ModelInDir     string     `yaml:"model-in-dir,omitempty"`
	ForceInDir     string     `yaml:"force-in-dir,omitempty"`
	GeoFile        string     `yaml:"geo-file,omitempty"`
	FullDomFile    string     `yaml:"full-dom-file,omitempty"`
	RouteLinkFile  string     `yaml:"route-link-file,omitempty"`
	GeoRes         float64    `yaml:"geo-res,omitempty"`
	Agg            int        `yaml:"agg,omitempty"`
	MaskFile       string     `yaml:"mask-file,omitempty"`
	BasinSubFile   string     `yaml:"basin-sub-file,omitempty"`
	SnowNetSubFile string     `yaml:"snow-net-sub-file,omitempty"`
	SnodasPath     string     `yaml:"snodas-path,omitempty"`
	SnowDB         *StoreYAML `yaml:"snow-db,omitempty"`
	Ensembles      []string   `yaml:"ensembles,omitempty"`
	EnsembleTags   []string   `yaml:"ensemble-tags,omitempty"`
}

type StoreYAML struct {
	Backend          string `yaml:"backend,omitempty"`
	ConnectionString string `yaml:"connection-string,omitempty"`
	SWETable         string `yaml:"swe-table,omitempty"`
	SnowDepthTable   string `yaml:"snow-depth-table,omitempty"`
	MetadataTable    string `yaml:"metadata-table,omitempty"`
}

func (s StoreYAML) toData() StoreData {
	return StoreData{
		Backend:          s.Backend,
		ConnectionString: s.ConnectionString,
		SWETable:         s.SWETable,
		SnowDepthTable:   s.SnowDepthTable,
		MetadataTable:    s.MetadataTable,
	}
}

type RuntimeYAML struct {
	Command     []string `yaml:"command,omitempty"`
	ParamFormat string   `yaml:"param-format,omitempty"`
	WorkDir     string   `yaml:"work-dir,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
}

type ExtractionYAML struct {
	EmptyPolicy       string `yaml:"empty-policy,omitempty"`
	DiscoveryStrategy string `yaml:"discovery-strategy,omitempty"`
	StationMatch      string `yaml:"station-match,omitempty"`
	WaitTimeout       string `yaml:"wait-timeout,omitempty"`
}

type MetricsYAML struct {
	PushgatewayURL string `yaml:"pushgateway-url,omitempty"`
	Job            string `yaml:"job,omitempty"`
}
