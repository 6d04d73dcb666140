package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"niko/internal/index"
)

func newPostgresWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return NewPostgresStoreFromDB(db), mock
}

func entryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "parent", "name", "is_dir", "size", "permission", "created_at", "updated_at", "deleted_at"})
}

func TestPostgresStore_Rebind(t *testing.T) {
	s, _ := newPostgresWithMock(t)
	got := s.rebind("UPDATE entries SET deleted_at = ? WHERE parent = ? AND name = ?")
	want := "UPDATE entries SET deleted_at = $1 WHERE parent = $2 AND name = $3"
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}

	sq := NewSQLiteStoreFromDB(s.DB())
	if q := "SELECT ? "; sq.rebind(q) != q {
		t.Errorf("sqlite rebind changed the query: %q", sq.rebind(q))
	}
}

func TestPostgresStore_Lookup(t *testing.T) {
	ctx := context.Background()
	q := `(?s)^SELECT id, parent, name, .* FROM entries WHERE parent = \$1 AND name = \$2 AND deleted_at IS NULL$`

	t.Run("found", func(t *testing.T) {
		s, mock := newPostgresWithMock(t)
		now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		mock.ExpectQuery(q).
			WithArgs("/r", "a").
			WillReturnRows(entryRows().AddRow(int64(7), "/r", "a", false, int64(3), int64(0o100644), now, now, nil))

		got, err := s.Lookup(ctx, "/r", "a")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if got.ID != 7 || got.Size != 3 || got.Permission != 0o100644 || !got.Live() {
			t.Errorf("Lookup() = %+v", got)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newPostgresWithMock(t)
		mock.ExpectQuery(q).WithArgs("/r", "a").WillReturnRows(entryRows())

		_, err := s.Lookup(ctx, "/r", "a")
		if !errors.Is(err, index.ErrNotFound) {
			t.Errorf("Lookup() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("db error is wrapped", func(t *testing.T) {
		s, mock := newPostgresWithMock(t)
		mock.ExpectQuery(q).WithArgs("/r", "a").WillReturnError(errors.New("db down"))

		_, err := s.Lookup(ctx, "/r", "a")
		if err == nil || errors.Is(err, index.ErrNotFound) {
			t.Errorf("Lookup() error = %v, want wrapped db error", err)
		}
	})
}

func TestPostgresStore_Insert(t *testing.T) {
	s, mock := newPostgresWithMock(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	e := &index.Entry{Parent: "/r", Name: "a", Size: 3, Permission: 0o644, CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery(`(?s)^INSERT INTO entries \(parent, name, is_dir, size, permission, created_at, updated_at, deleted_at\)\s+VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\) RETURNING id$`).
		WithArgs("/r", "a", false, int64(3), int64(0o644), now, now, sql.NullTime{}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := s.Insert(context.Background(), e)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if id != 11 {
		t.Errorf("Insert() = %d, want 11", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_Update(t *testing.T) {
	s, mock := newPostgresWithMock(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	e := &index.Entry{ID: 5, Parent: "/r", Name: "a", CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec(`(?s)^UPDATE entries SET parent = \$1, .* WHERE id = \$9$`).
		WithArgs("/r", "a", false, int64(0), int64(0), now, now, sql.NullTime{}, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.Update(context.Background(), e)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Update() = %d, want 1", n)
	}
}

func TestPostgresStore_SoftDeleteByParent(t *testing.T) {
	s, mock := newPostgresWithMock(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`^UPDATE entries SET deleted_at = \$1 WHERE parent = \$2 AND deleted_at IS NULL$`).
		WithArgs(now, "/r/d").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.SoftDeleteByParent(context.Background(), "/r/d", now)
	if err != nil {
		t.Fatalf("SoftDeleteByParent() error = %v", err)
	}
	if n != 3 {
		t.Errorf("SoftDeleteByParent() = %d, want 3", n)
	}
}

func TestPostgresStore_Page(t *testing.T) {
	s, mock := newPostgresWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT .* FROM entries WHERE deleted_at IS NULL ORDER BY id LIMIT \$1 OFFSET \$2$`).
		WithArgs(20, 40).
		WillReturnRows(entryRows())

	got, err := s.Page(context.Background(), 3, 20)
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Page() = %v, want empty", got)
	}

	mock.ExpectQuery(`(?s)^SELECT .* FROM entries ORDER BY id LIMIT \$1 OFFSET \$2$`).
		WithArgs(10, 0).
		WillReturnRows(entryRows())

	if _, err := s.PageAll(context.Background(), 1, 10); err != nil {
		t.Fatalf("PageAll() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_Bookkeeping(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("upsert", func(t *testing.T) {
		s, mock := newPostgresWithMock(t)
		mock.ExpectExec(`(?s)^INSERT INTO metadata \(key, value, updated_at\) VALUES \(\$1, \$2, \$3\)\s+ON CONFLICT \(key\) DO UPDATE`).
			WithArgs(index.KeyWalkingDir, "done", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := s.UpsertBookkeeping(ctx, index.KeyWalkingDir, "done", now); err != nil {
			t.Fatalf("UpsertBookkeeping() error = %v", err)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		s, mock := newPostgresWithMock(t)
		mock.ExpectQuery(`^SELECT updated_at FROM metadata WHERE key = \$1$`).
			WithArgs(index.KeyWalkingDir).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))

		if _, err := s.FindBookkeeping(ctx, index.KeyWalkingDir); !errors.Is(err, index.ErrNotFound) {
			t.Errorf("FindBookkeeping() error = %v, want ErrNotFound", err)
		}
	})
}

func TestPostgresStore_Snapshot(t *testing.T) {
	s, _ := newPostgresWithMock(t)
	if err := s.Snapshot(context.Background(), "/tmp/x.db"); !errors.Is(err, index.ErrSnapshotUnsupported) {
		t.Errorf("Snapshot() error = %v, want ErrSnapshotUnsupported", err)
	}
}
