package index

import (
	"context"
	"time"
)

// Store persists index entries and the bookkeeping table.
// Lookups only ever match live rows. None of the operations cache.
type Store interface {
	// Entry operations

	// Lookup returns the live entry at (parent, name), or ErrNotFound.
	Lookup(ctx context.Context, parent, name string) (*Entry, error)

	// LookupByID returns the live entry with the given id, or ErrNotFound.
	LookupByID(ctx context.Context, id int64) (*Entry, error)

	// Insert persists a new entry and returns its assigned id.
	Insert(ctx context.Context, entry *Entry) (int64, error)

	// Update replaces every column of the row identified by entry.ID and
	// returns the number of affected rows.
	Update(ctx context.Context, entry *Entry) (int64, error)

	// SoftDeleteByPath marks the live entry at (parent, name) deleted.
	// A missing entry is not an error; the count is 0.
	SoftDeleteByPath(ctx context.Context, parent, name string, at time.Time) (int64, error)

	// SoftDeleteByParent marks every live entry directly under parent deleted.
	SoftDeleteByParent(ctx context.Context, parent string, at time.Time) (int64, error)

	// Page returns live entries ordered by id. page is 1-based.
	Page(ctx context.Context, page, size int) ([]*Entry, error)

	// PageAll is Page including soft-deleted rows, for history listings.
	PageAll(ctx context.Context, page, size int) ([]*Entry, error)

	// CountLive returns the number of live entries.
	CountLive(ctx context.Context) (int64, error)

	// Bookkeeping operations

	// FindBookkeeping returns when key was last written, or ErrNotFound.
	FindBookkeeping(ctx context.Context, key string) (time.Time, error)

	// UpsertBookkeeping creates or updates the row for key.
	UpsertBookkeeping(ctx context.Context, key, value string, at time.Time) error

	// Snapshot writes a consistent copy of the database to destPath.
	// Returns ErrSnapshotUnsupported when the backend cannot do this.
	Snapshot(ctx context.Context, destPath string) error

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// Close closes the underlying connection pool.
	Close() error
}

// checkUpdated turns an affected-row count into ErrInvariantViolation unless it is exactly 1.
func checkUpdated(entry *Entry, count int64) error {
	if count != 1 {
		return &InvariantError{ID: entry.ID, Path: entry.Path(), Affected: count}
	}
	return nil
}
