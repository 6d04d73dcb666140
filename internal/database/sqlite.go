package database

import (
	"context"
	"database/sql"
	"fmt"

	"niko/internal/database/migrations"
	"niko/internal/index"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore is the default index.Store, backed by a single SQLite file.
type SQLiteStore struct {
	*SQLStore
	path string
}

// NewSQLiteStore opens the database at path.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{SQLStore: newSQLStore(db, migrations.SQLite), path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{SQLStore: newSQLStore(db, migrations.SQLite)}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Path returns the database file path, empty when wrapping an existing connection.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Snapshot writes a consistent, compacted copy of the database to destPath.
// destPath must not exist.
func (s *SQLiteStore) Snapshot(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("copying database to %s: %w", destPath, err)
	}
	return nil
}

// Compile-time check that SQLiteStore implements index.Store
var _ index.Store = (*SQLiteStore)(nil)
