// Package pgstore is the Postgres-backed store.Store implementation, used
// when the server is configured with a DATABASE_URL. Schema is owned by
// golang-migrate (migrate.go); gorm is the query layer on top of the
// already-migrated schema — deliberately split so each library keeps the
// one job it does well instead of one owning both migration and querying.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config configures the Postgres connection pool.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnLifetime == 0 {
		c.ConnLifetime = time.Hour
	}
}

// Store is a store.Store backed by Postgres.
type Store struct {
	db       *gorm.DB
	usageCap uint64
}

// New runs pending migrations against cfg.DSN, then opens a gorm
// connection over the migrated schema.
func New(ctx context.Context, cfg Config, usageCap uint64, log *slog.Logger) (*Store, error) {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}

	if err := runMigrations(ctx, cfg.DSN, log); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnLifetime)

	return &Store{db: db, usageCap: usageCap}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
