package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/wispberry-tech/wispy-admin/core"
)

// PostgresStorage implements core.Storage for PostgreSQL databases
type PostgresStorage struct {
	*sqlStore
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(databaseDSN string) (*PostgresStorage, error) {
	// Parse the connection string
	config, err := pgx.ParseConfig(databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	db := stdlib.OpenDB(*config)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := ensureSchema(ctx, db, dialectPostgres); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStorage{sqlStore: &sqlStore{db: db, dialect: dialectPostgres}}, nil
}

var _ core.Storage = (*PostgresStorage)(nil)
