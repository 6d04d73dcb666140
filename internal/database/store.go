package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"niko/internal/database/migrations"
	"niko/internal/index"
)

const entryColumns = "id, parent, name, is_dir, size, permission, created_at, updated_at, deleted_at"

// SQLStore implements index.Store over database/sql. Queries are written
// with '?' placeholders and rebound for the dialect.
type SQLStore struct {
	db      *sql.DB
	dialect migrations.Dialect
}

func newSQLStore(db *sql.DB, dialect migrations.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// DB exposes the connection pool for migrations and tests.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// rebind rewrites '?' placeholders as $1, $2, ... for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != migrations.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*index.Entry, error) {
	var (
		e       index.Entry
		deleted sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.Parent, &e.Name, &e.IsDir, &e.Size, &e.Permission, &e.CreatedAt, &e.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	if deleted.Valid {
		t := deleted.Time
		e.DeletedAt = &t
	}
	return &e, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Entry operations

func (s *SQLStore) Lookup(ctx context.Context, parent, name string) (*index.Entry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+entryColumns+` FROM entries WHERE parent = ? AND name = ? AND deleted_at IS NULL`),
		parent, name)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, index.ErrNotFound
		}
		return nil, fmt.Errorf("looking up entry %s/%s: %w", parent, name, err)
	}
	return e, nil
}

func (s *SQLStore) LookupByID(ctx context.Context, id int64) (*index.Entry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+entryColumns+` FROM entries WHERE id = ? AND deleted_at IS NULL`), id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, index.ErrNotFound
		}
		return nil, fmt.Errorf("looking up entry %d: %w", id, err)
	}
	return e, nil
}

func (s *SQLStore) Insert(ctx context.Context, e *index.Entry) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO entries (parent, name, is_dir, size, permission, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		e.Parent, e.Name, e.IsDir, e.Size, int64(e.Permission), e.CreatedAt.UTC(), e.UpdatedAt.UTC(), nullTime(e.DeletedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting entry %s: %w", e.Path(), err)
	}
	return id, nil
}

func (s *SQLStore) Update(ctx context.Context, e *index.Entry) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE entries SET parent = ?, name = ?, is_dir = ?, size = ?, permission = ?,
			created_at = ?, updated_at = ?, deleted_at = ?
		WHERE id = ?`),
		e.Parent, e.Name, e.IsDir, e.Size, int64(e.Permission), e.CreatedAt.UTC(), e.UpdatedAt.UTC(), nullTime(e.DeletedAt), e.ID)
	if err != nil {
		return 0, fmt.Errorf("updating entry %d: %w", e.ID, err)
	}
	return rowsAffected(res)
}

func (s *SQLStore) SoftDeleteByPath(ctx context.Context, parent, name string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE entries SET deleted_at = ? WHERE parent = ? AND name = ? AND deleted_at IS NULL`),
		at.UTC(), parent, name)
	if err != nil {
		return 0, fmt.Errorf("soft-deleting %s/%s: %w", parent, name, err)
	}
	return rowsAffected(res)
}

func (s *SQLStore) SoftDeleteByParent(ctx context.Context, parent string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE entries SET deleted_at = ? WHERE parent = ? AND deleted_at IS NULL`),
		at.UTC(), parent)
	if err != nil {
		return 0, fmt.Errorf("soft-deleting children of %s: %w", parent, err)
	}
	return rowsAffected(res)
}

func (s *SQLStore) Page(ctx context.Context, page, size int) ([]*index.Entry, error) {
	return s.page(ctx, page, size, `WHERE deleted_at IS NULL `)
}

func (s *SQLStore) PageAll(ctx context.Context, page, size int) ([]*index.Entry, error) {
	return s.page(ctx, page, size, "")
}

func (s *SQLStore) page(ctx context.Context, page, size int, where string) ([]*index.Entry, error) {
	if page < 1 || size < 1 {
		return nil, fmt.Errorf("invalid page %d/size %d: both must be at least 1", page, size)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+entryColumns+` FROM entries `+where+`ORDER BY id LIMIT ? OFFSET ?`),
		size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []*index.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) CountLive(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE deleted_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// Bookkeeping operations

func (s *SQLStore) FindBookkeeping(ctx context.Context, key string) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT updated_at FROM metadata WHERE key = ?`), key).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, index.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("reading bookkeeping %s: %w", key, err)
	}
	return at, nil
}

func (s *SQLStore) UpsertBookkeeping(ctx context.Context, key, value string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, value, at.UTC())
	if err != nil {
		return fmt.Errorf("writing bookkeeping %s: %w", key, err)
	}
	return nil
}

// Schema operations

func (s *SQLStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, s.dialect)
}

// Migrate applies all pending migrations.
func (s *SQLStore) Migrate() error {
	return migrations.MigrateUp(s.db, s.dialect)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}
