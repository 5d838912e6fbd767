package config

import "errors"

// ErrUnknownProject is returned when an alias is not in the registry.
var ErrUnknownProject = errors.New("model project not found in registry")

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetProjects() ([]ProjectData, error)
	GetStoreConfig() (*StoreData, error)
	GetRuntimeConfig() (*RuntimeData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Projects   []ProjectData  `json:"projects"`
	Store      StoreData      `json:"store,omitempty"`
	Runtime    RuntimeData    `json:"runtime,omitempty"`
	Extraction ExtractionData `json:"extraction,omitempty"`
	Metrics    MetricsData    `json:"metrics,omitempty"`
}

// ProjectData describes one model project: where its output lives and which domain and
// observation files go with it.
type ProjectData struct {
	Alias         string  `json:"alias"`
	Tag           string  `json:"tag"`
	TopDir        string  `json:"top_dir"`
	ModelInDir    string  `json:"model_in_dir,omitempty"`
	ForceInDir    string  `json:"force_in_dir,omitempty"`
	GeoFile       string  `json:"geo_file,omitempty"`
	FullDomFile   string  `json:"full_dom_file,omitempty"`
	RouteLinkFile string  `json:"route_link_file,omitempty"`
	GeoRes        float64 `json:"geo_res,omitempty"`
	Agg           int     `json:"agg,omitempty"`
	MaskFile      string  `json:"mask_file,omitempty"`
	BasinSubFile  string  `json:"basin_sub_file,omitempty"`
	// SnowNetSubFile lists the observation networks kept when this project extracts from
	// the snow database.
	SnowNetSubFile string `json:"snow_net_sub_file,omitempty"`
	SnodasPath     string `json:"snodas_path,omitempty"`
	// SnowDB overrides the global store for this project. Nil means the project has no
	// snow database access.
	SnowDB       *StoreData `json:"snow_db,omitempty"`
	Ensembles    []string   `json:"ensembles,omitempty"`
	EnsembleTags []string   `json:"ensemble_tags,omitempty"`
}

// StoreData holds the observation store connection
type StoreData struct {
	Backend          string `json:"backend,omitempty"` // postgres, timescaledb or sqlite
	ConnectionString string `json:"connection_string,omitempty"`
	SWETable         string `json:"swe_table,omitempty"`
	SnowDepthTable   string `json:"snow_depth_table,omitempty"`
	MetadataTable    string `json:"metadata_table,omitempty"`
}

// RuntimeData configures the statistical runtime invoked after staging
type RuntimeData struct {
	Command []string `json:"command,omitempty"`
	// ParamFormat is json or msgpack.
	ParamFormat string `json:"param_format,omitempty"`
	WorkDir     string `json:"work_dir,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// ExtractionData tunes extraction and discovery
type ExtractionData struct {
	EmptyPolicy       string `json:"empty_policy,omitempty"`       // warn or fail
	DiscoveryStrategy string `json:"discovery_strategy,omitempty"` // first or narrowest
	StationMatch      string `json:"station_match,omitempty"`      // exact or legacy-substring
	WaitTimeout       string `json:"wait_timeout,omitempty"`
}

// MetricsData configures the optional Pushgateway push at the end of a run
type MetricsData struct {
	PushgatewayURL string `json:"pushgateway_url,omitempty"`
	Job            string `json:"job,omitempty"`
}
