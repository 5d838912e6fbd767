package config

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wrfhydro/snoweval/pkg/migrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const globalScope = "global"

// Keys of the settings table.
const (
	settingEmptyPolicy       = "extraction.empty_policy"
	settingDiscoveryStrategy = "extraction.discovery_strategy"
	settingStationMatch      = "extraction.station_match"
	settingWaitTimeout       = "extraction.wait_timeout"
	settingPushgatewayURL    = "metrics.pushgateway_url"
	settingMetricsJob        = "metrics.job"
)

// SQLiteProvider implements ConfigProvider for SQLite database configuration
type SQLiteProvider struct {
	db      *sql.DB
	dbPath  string
	version int
}

// NewSQLiteProvider opens the registry database and brings its schema up to date
func NewSQLiteProvider(dbPath string, logger *zap.SugaredLogger) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	steps, err := migrate.Load(migrationFS, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	m := migrate.NewMigrator(db, steps, "", logger)
	if _, err := m.Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate registry schema: %w", err)
	}
	version, err := m.Version()
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteProvider{
		db:      db,
		dbPath:  dbPath,
		version: version,
	}, nil
}

// SchemaVersion is the registry schema version after opening.
func (s *SQLiteProvider) SchemaVersion() int {
	return s.version
}

// LoadConfig loads the complete configuration from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	config := &ConfigData{}

	projects, err := s.GetProjects()
	if err != nil {
		return nil, fmt.Errorf("failed to load projects: %w", err)
	}
	config.Projects = projects

	store, err := s.GetStoreConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load store config: %w", err)
	}
	config.Store = *store

	runtime, err := s.GetRuntimeConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load runtime config: %w", err)
	}
	config.Runtime = *runtime

	settings, err := s.getSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	config.Extraction = ExtractionData{
		EmptyPolicy:       settings[settingEmptyPolicy],
		DiscoveryStrategy: settings[settingDiscoveryStrategy],
		StationMatch:      settings[settingStationMatch],
		WaitTimeout:       settings[settingWaitTimeout],
	}
	config.Metrics = MetricsData{
		PushgatewayURL: settings[settingPushgatewayURL],
		Job:            settings[settingMetricsJob],
	}

	return config, nil
}

const projectColumns = `
	alias, tag, top_dir, model_in_dir, force_in_dir, geo_file, full_dom_file,
	route_link_file, geo_res, agg, mask_file, basin_sub_file, snow_net_sub_file, snodas_path`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (ProjectData, error) {
	var p ProjectData
	var modelIn, forceIn, geo, fullDom, routeLink, mask, basinSub, netSub, snodas sql.NullString
	var geoRes sql.NullFloat64
	var agg sql.NullInt64

	err := row.Scan(&p.Alias, &p.Tag, &p.TopDir, &modelIn, &forceIn, &geo, &fullDom,
		&routeLink, &geoRes, &agg, &mask, &basinSub, &netSub, &snodas)
	if err != nil {
		return ProjectData{}, err
	}

	p.ModelInDir = modelIn.String
	p.ForceInDir = forceIn.String
	p.GeoFile = geo.String
	p.FullDomFile = fullDom.String
	p.RouteLinkFile = routeLink.String
	p.GeoRes = geoRes.Float64
	p.Agg = int(agg.Int64)
	p.MaskFile = mask.String
	p.BasinSubFile = basinSub.String
	p.SnowNetSubFile = netSub.String
	p.SnodasPath = snodas.String
	return p, nil
}

// GetProjects returns every registered model project ordered by alias
func (s *SQLiteProvider) GetProjects() ([]ProjectData, error) {
	rows, err := s.db.Query(`SELECT` + projectColumns + ` FROM projects ORDER BY alias`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}

	var projects []ProjectData
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range projects {
		if err := s.loadProjectDetails(&projects[i]); err != nil {
			return nil, err
		}
	}
	return projects, nil
}

// GetProject retrieves a single project by alias
func (s *SQLiteProvider) GetProject(alias string) (*ProjectData, error) {
	row := s.db.QueryRow(`SELECT`+projectColumns+` FROM projects WHERE alias = ?`, alias)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProject, alias)
		}
		return nil, fmt.Errorf("failed to get project %s: %w", alias, err)
	}
	if err := s.loadProjectDetails(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteProvider) loadProjectDetails(p *ProjectData) error {
	rows, err := s.db.Query(`SELECT member, tag FROM project_ensembles WHERE project_alias = ? ORDER BY position`, p.Alias)
	if err != nil {
		return fmt.Errorf("failed to query ensembles of %s: %w", p.Alias, err)
	}
	defer rows.Close()

	for rows.Next() {
		var member string
		var tag sql.NullString
		if err := rows.Scan(&member, &tag); err != nil {
			return fmt.Errorf("failed to scan ensemble row: %w", err)
		}
		p.Ensembles = append(p.Ensembles, member)
		if tag.Valid {
			p.EnsembleTags = append(p.EnsembleTags, tag.String)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	store, err := s.getStore(p.Alias)
	if err != nil {
		return err
	}
	p.SnowDB = store
	return nil
}

// GetStoreConfig returns the global observation store configuration
func (s *SQLiteProvider) GetStoreConfig() (*StoreData, error) {
	store, err := s.getStore(globalScope)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return &StoreData{}, nil
	}
	return store, nil
}

func (s *SQLiteProvider) getStore(scope string) (*StoreData, error) {
	var store StoreData
	var conn, swe, sd, meta sql.NullString
	err := s.db.QueryRow(`
		SELECT backend, connection_string, swe_table, snow_depth_table, metadata_table
		FROM store_configs WHERE scope = ?`, scope).Scan(&store.Backend, &conn, &swe, &sd, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query store config %s: %w", scope, err)
	}
	store.ConnectionString = conn.String
	store.SWETable = swe.String
	store.SnowDepthTable = sd.String
	store.MetadataTable = meta.String
	return &store, nil
}

// GetRuntimeConfig returns the runtime configuration
func (s *SQLiteProvider) GetRuntimeConfig() (*RuntimeData, error) {
	var rt RuntimeData
	var command, format, workDir, timeout sql.NullString
	err := s.db.QueryRow(`SELECT command, param_format, work_dir, timeout FROM runtime_configs WHERE id = 1`).
		Scan(&command, &format, &workDir, &timeout)
	if errors.Is(err, sql.ErrNoRows) {
		return &rt, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query runtime config: %w", err)
	}

	if command.String != "" {
		if err := json.Unmarshal([]byte(command.String), &rt.Command); err != nil {
			return nil, fmt.Errorf("invalid runtime command in registry: %w", err)
		}
	}
	rt.ParamFormat = format.String
	rt.WorkDir = workDir.String
	rt.Timeout = timeout.String
	return &rt, nil
}

func (s *SQLiteProvider) getSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// IsReadOnly returns false since SQLite configuration can be modified
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Write methods for registry management

// SaveConfig replaces the stored configuration with configData
func (s *SQLiteProvider) SaveConfig(configData *ConfigData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM project_ensembles",
		"DELETE FROM projects",
		"DELETE FROM store_configs",
		"DELETE FROM runtime_configs",
		"DELETE FROM settings",
	} {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("failed to clear existing config: %w", err)
		}
	}

	for i := range configData.Projects {
		if err := insertProject(tx, &configData.Projects[i]); err != nil {
			return fmt.Errorf("failed to insert project %s: %w", configData.Projects[i].Alias, err)
		}
	}

	if configData.Store != (StoreData{}) {
		if err := upsertStore(tx, globalScope, &configData.Store); err != nil {
			return fmt.Errorf("failed to insert store config: %w", err)
		}
	}

	if err := upsertRuntime(tx, &configData.Runtime); err != nil {
		return fmt.Errorf("failed to insert runtime config: %w", err)
	}

	settings := map[string]string{
		settingEmptyPolicy:       configData.Extraction.EmptyPolicy,
		settingDiscoveryStrategy: configData.Extraction.DiscoveryStrategy,
		settingStationMatch:      configData.Extraction.StationMatch,
		settingWaitTimeout:       configData.Extraction.WaitTimeout,
		settingPushgatewayURL:    configData.Metrics.PushgatewayURL,
		settingMetricsJob:        configData.Metrics.Job,
	}
	for k, v := range settings {
		if v == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("failed to insert setting %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// AddProject registers a new model project
func (s *SQLiteProvider) AddProject(p *ProjectData) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := s.GetProject(p.Alias); err == nil {
		return fmt.Errorf("project %s already exists", p.Alias)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertProject(tx, p); err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return tx.Commit()
}

// UpdateProject replaces the project registered under alias
func (s *SQLiteProvider) UpdateProject(alias string, p *ProjectData) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := s.GetProject(alias); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteProject(tx, alias); err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if err := insertProject(tx, p); err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return tx.Commit()
}

// DeleteProject removes a project and its ensemble and store rows
func (s *SQLiteProvider) DeleteProject(alias string) error {
	if _, err := s.GetProject(alias); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteProject(tx, alias); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return tx.Commit()
}

func deleteProject(tx *sql.Tx, alias string) error {
	for _, q := range []string{
		"DELETE FROM project_ensembles WHERE project_alias = ?",
		"DELETE FROM store_configs WHERE scope = ?",
		"DELETE FROM projects WHERE alias = ?",
	} {
		if _, err := tx.Exec(q, alias); err != nil {
			return err
		}
	}
	return nil
}

func insertProject(tx *sql.Tx, p *ProjectData) error {
	_, err := tx.Exec(`INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Alias, p.Tag, p.TopDir, nullString(p.ModelInDir), nullString(p.ForceInDir),
		nullString(p.GeoFile), nullString(p.FullDomFile), nullString(p.RouteLinkFile),
		nullFloat64(p.GeoRes), p.Agg, nullString(p.MaskFile), nullString(p.BasinSubFile),
		nullString(p.SnowNetSubFile), nullString(p.SnodasPath),
	)
	if err != nil {
		return err
	}

	for i, member := range p.Ensembles {
		var tag sql.NullString
		if i < len(p.EnsembleTags) {
			tag = nullString(p.EnsembleTags[i])
		}
		if _, err := tx.Exec(`INSERT INTO project_ensembles (project_alias, position, member, tag) VALUES (?, ?, ?, ?)`,
			p.Alias, i, member, tag); err != nil {
			return err
		}
	}

	if p.SnowDB != nil {
		return upsertStore(tx, p.Alias, p.SnowDB)
	}
	return nil
}

func upsertStore(tx *sql.Tx, scope string, store *StoreData) error {
	backend := store.Backend
	if backend == "" {
		backend = "postgres"
	}
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO store_configs (scope, backend, connection_string, swe_table, snow_depth_table, metadata_table)
		VALUES (?, ?, ?, ?, ?, ?)`,
		scope, backend, nullString(store.ConnectionString), nullString(store.SWETable),
		nullString(store.SnowDepthTable), nullString(store.MetadataTable))
	return err
}

func upsertRuntime(tx *sql.Tx, rt *RuntimeData) error {
	var command sql.NullString
	if len(rt.Command) > 0 {
		b, err := json.Marshal(rt.Command)
		if err != nil {
			return err
		}
		command = nullString(string(b))
	}
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO runtime_configs (id, command, param_format, work_dir, timeout)
		VALUES (1, ?, ?, ?, ?)`,
		command, nullString(rt.ParamFormat), nullString(rt.WorkDir), nullString(rt.Timeout))
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
