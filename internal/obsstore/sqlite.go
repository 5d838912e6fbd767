package obsstore

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens a SQLite snapshot of the snow database.
func OpenSQLite(ctx context.Context, path string, tables Tables, logger *zap.SugaredLogger) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open SQLite database: %w", ErrConnection, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping SQLite database: %w", ErrConnection, err)
	}

	s := NewSQLStore(db, tables, logger)
	s.(*sqlStore).close = db.Close
	return s, nil
}

// NewSQLStore wraps an open database handle. Closing the returned Store does not close db.
func NewSQLStore(db *sql.DB, tables Tables, logger *zap.SugaredLogger) Store {
	return &sqlStore{
		query:  db.QueryContext,
		tables: tables.withDefaults(),
		logger: logger,
	}
}
