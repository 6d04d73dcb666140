package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"niko/internal/database/migrations"
	"niko/internal/index"
)

// PostgresStore is an index.Store backed by a PostgreSQL server, for indexes
// shared by several readers.
type PostgresStore struct {
	*SQLStore
}

// NewPostgresStore connects to the server named by dsn and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewPostgresStoreFromDB(db), nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{SQLStore: newSQLStore(db, migrations.Postgres)}
}

// Snapshot is not available for server databases; use pg_dump.
func (s *PostgresStore) Snapshot(context.Context, string) error {
	return index.ErrSnapshotUnsupported
}

// Compile-time check that PostgresStore implements index.Store
var _ index.Store = (*PostgresStore)(nil)
