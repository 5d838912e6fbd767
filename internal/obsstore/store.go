// Package obsstore reads snow observations and station metadata from the snow database.
//
// Two measurement tables (SWE and snow depth) share the column layout
// (unique_id, value, date_obs); the metadata table has
// (unique_id, networks, station_id, latitude, longitude).
package obsstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/wrfhydro/snoweval/internal/stations"
	"github.com/wrfhydro/snoweval/internal/window"
)

var (
	// ErrConnection means the store could not be reached.
	ErrConnection = errors.New("observation store unreachable")
	// ErrQuery means a statement failed or returned rows that could not be read.
	ErrQuery = errors.New("observation store query failed")
)

// Default table names of the NWM snow observation database.
const (
	DefaultSWETable       = "NWM_SWE"
	DefaultSnowDepthTable = "NWM_SD"
	DefaultMetadataTable  = "NWM_snow_meta"
)

// Observation is one measurement row.
type Observation struct {
	StationID int64
	Value     float64 // millimeters
	Time      time.Time
}

// Store is a time-windowed observation source. Implementations are not safe for
// concurrent use; one extraction owns one Store.
type Store interface {
	// SWE returns snow water equivalent rows with start < date_obs < end.
	SWE(ctx context.Context, w window.Window) ([]Observation, error)
	// SnowDepth returns snow depth rows with start < date_obs < end.
	SnowDepth(ctx context.Context, w window.Window) ([]Observation, error)
	// Metadata returns every row of the station metadata table.
	Metadata(ctx context.Context) ([]stations.Metadata, error)
	Close() error
}

// Tables names the three tables read by a Store.
type Tables struct {
	SWE       string
	SnowDepth string
	Metadata  string
}

func (t Tables) withDefaults() Tables {
	if t.SWE == "" {
		t.SWE = DefaultSWETable
	}
	if t.SnowDepth == "" {
		t.SnowDepth = DefaultSnowDepthTable
	}
	if t.Metadata == "" {
		t.Metadata = DefaultMetadataTable
	}
	return t
}

// Config selects and configures a store backend.
type Config struct {
	// Backend is "postgres" (also "timescaledb") or "sqlite".
	Backend          string
	ConnectionString string
	Tables           Tables
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (Store, error) {
	switch cfg.Backend {
	case "", "postgres", "timescaledb":
		return OpenPostgres(ctx, cfg.ConnectionString, cfg.Tables, logger)
	case "sqlite":
		return OpenSQLite(ctx, cfg.ConnectionString, cfg.Tables, logger)
	default:
		return nil, fmt.Errorf("unsupported observation store backend: %s. Use 'postgres' or 'sqlite'", cfg.Backend)
	}
}

// rowQuerier runs a statement with ? placeholders.
type rowQuerier func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

// sqlStore holds the SQL shared by every backend.
type sqlStore struct {
	query  rowQuerier
	close  func() error
	tables Tables
	logger *zap.SugaredLogger
}

func (s *sqlStore) SWE(ctx context.Context, w window.Window) ([]Observation, error) {
	return s.observations(ctx, "SWE", s.tables.SWE, w)
}

func (s *sqlStore) SnowDepth(ctx context.Context, w window.Window) ([]Observation, error) {
	return s.observations(ctx, "snow depth", s.tables.SnowDepth, w)
}

func (s *sqlStore) observations(ctx context.Context, kind, table string, w window.Window) ([]Observation, error) {
	query := fmt.Sprintf(
		`SELECT unique_id, value, date_obs FROM %s WHERE date_obs > ? AND date_obs < ? ORDER BY date_obs, unique_id`,
		pq.QuoteIdentifier(table))

	s.logger.Debugw("querying observations", "kind", kind, "table", table,
		"start", w.Start.Format(time.RFC3339), "end", w.End.Format(time.RFC3339))

	rows, err := s.query(ctx, query, w.Start.UTC(), w.End.UTC())
	if err != nil {
		return nil, classify("unable to pull "+kind+" observations for analysis period", err)
	}
	defer rows.Close()

	var out []Observation
	var nulls int
	for rows.Next() {
		var id int64
		var value sql.NullFloat64
		var ts time.Time
		if err := rows.Scan(&id, &value, &ts); err != nil {
			return nil, classify("failed to scan "+kind+" row", err)
		}
		if !value.Valid {
			nulls++
			continue
		}
		out = append(out, Observation{StationID: id, Value: value.Float64, Time: ts.UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(kind+" row iteration error", err)
	}

	if nulls > 0 {
		s.logger.Warnw("skipped observations without a value", "kind", kind, "count", nulls)
	}
	return out, nil
}

func (s *sqlStore) Metadata(ctx context.Context) ([]stations.Metadata, error) {
	query := fmt.Sprintf(
		`SELECT unique_id, networks, station_id, latitude, longitude FROM %s ORDER BY unique_id`,
		pq.QuoteIdentifier(s.tables.Metadata))

	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, classify("unable to extract snow metadata table information", err)
	}
	defer rows.Close()

	var out []stations.Metadata
	for rows.Next() {
		var m stations.Metadata
		var networks, displayID sql.NullString
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&m.UniqueID, &networks, &displayID, &lat, &lon); err != nil {
			return nil, classify("failed to scan metadata row", err)
		}
		m.Networks = stations.ParseNetworks(networks.String)
		m.DisplayID = displayID.String
		m.Latitude = lat.Float64
		m.Longitude = lon.Float64
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("metadata row iteration error", err)
	}
	return out, nil
}

func (s *sqlStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// classify wraps err with ErrConnection when the failure is about reaching the server and
// ErrQuery otherwise.
func classify(op string, err error) error {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%s: %w: %w", op, ErrConnection, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrQuery, err)
}
