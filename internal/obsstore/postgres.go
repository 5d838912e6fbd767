package obsstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wrfhydro/snoweval/internal/log"
)

// OpenPostgres connects to a PostgreSQL/TimescaleDB snow database through GORM.
func OpenPostgres(ctx context.Context, connectionString string, tables Tables, zl *zap.SugaredLogger) (Store, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("%w: no connection string configured", ErrConnection)
	}

	db, err := CreateConnection(connectionString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get underlying database connection: %w", ErrConnection, err)
	}
	// One connection, used for the whole extraction and released afterwards.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, classify("database ping failed", err)
	}
	zl.Info("connected to snow observation database")

	return &sqlStore{
		query: func(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
			return db.WithContext(ctx).Raw(query, args...).Rows()
		},
		close:  sqlDB.Close,
		tables: tables.withDefaults(),
		logger: zl,
	}, nil
}

// CreateConnection opens a GORM connection with the standard logger configuration.
func CreateConnection(connectionString string) (*gorm.DB, error) {
	dbLogger := logger.New(
		zap.NewStdLog(log.GetZapLogger()),
		logger.Config{
			SlowThreshold:             5 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	log.Info("connecting to snow observation database...")
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{Logger: dbLogger})
	if err != nil {
		log.Warnf("unable to create a snow database connection: %v", err)
		return nil, err
	}

	return db, nil
}
