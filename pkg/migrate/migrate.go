// Package migrate brings a SQLite schema forward through numbered SQL steps.
package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DefaultTable records the applied steps.
const DefaultTable = "schema_version"

var stepFile = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// Step is one forward-only schema change.
type Step struct {
	Version int
	Name    string
	SQL     string
}

// Load reads the steps named NNN_name.sql in dir, ordered by version. Other files are
// ignored; two files with the same version are an error.
func Load(fsys fs.FS, dir string) ([]Step, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema directory %s: %w", dir, err)
	}

	seen := make(map[int]string)
	var steps []Step
	for _, e := range entries {
		matches := stepFile.FindStringSubmatch(e.Name())
		if e.IsDir() || matches == nil {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("invalid version in %s: %w", e.Name(), err)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("schema version %d defined by both %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		content, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		steps = append(steps, Step{
			Version: version,
			Name:    strings.ReplaceAll(matches[2], "_", " "),
			SQL:     string(content),
		})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return steps, nil
}

// Migrator applies steps to one database.
type Migrator struct {
	db     *sql.DB
	steps  []Step
	table  string
	logger *zap.SugaredLogger
}

// NewMigrator returns a migrator recording progress in table (DefaultTable when empty).
func NewMigrator(db *sql.DB, steps []Step, table string, logger *zap.SugaredLogger) *Migrator {
	if table == "" {
		table = DefaultTable
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Migrator{db: db, steps: steps, table: table, logger: logger}
}

func (m *Migrator) ensureTable() error {
	_, err := m.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`, m.table))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", m.table, err)
	}
	return nil
}

// Version returns the highest applied step, 0 for a fresh database.
func (m *Migrator) Version() (int, error) {
	if err := m.ensureTable(); err != nil {
		return 0, err
	}
	var v int
	if err := m.db.QueryRow(fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", m.table)).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// Pending returns the steps above the current version.
func (m *Migrator) Pending() ([]Step, error) {
	current, err := m.Version()
	if err != nil {
		return nil, err
	}
	var pending []Step
	for _, s := range m.steps {
		if s.Version > current {
			pending = append(pending, s)
		}
	}
	return pending, nil
}

// Up applies every pending step, each in its own transaction, and returns how many ran.
// A failed step leaves the database at the previous version.
func (m *Migrator) Up() (int, error) {
	pending, err := m.Pending()
	if err != nil {
		return 0, err
	}
	for i, s := range pending {
		if err := m.apply(s); err != nil {
			return i, fmt.Errorf("schema step %d (%s): %w", s.Version, s.Name, err)
		}
	}
	return len(pending), nil
}

func (m *Migrator) apply(s Step) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(s.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("INSERT INTO %s (version, name) VALUES (?, ?)", m.table), s.Version, s.Name); err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	m.logger.Infow("applied schema step", "version", s.Version, "name", s.Name)
	return nil
}
