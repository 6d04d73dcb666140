package index

import (
	"errors"
	"path/filepath"
	"time"
)

var (
	// ErrNotFound is returned by Store lookups that match no live row.
	ErrNotFound = errors.New("entry not found")

	// ErrInvariantViolation is returned when an update-by-id does not affect
	// exactly one row.
	ErrInvariantViolation = errors.New("store invariant violated")

	// ErrSnapshotUnsupported is returned by stores that cannot copy themselves to a file.
	ErrSnapshotUnsupported = errors.New("snapshot not supported by this store")
)

// KeyWalkingDir is the bookkeeping key recording the last completed full scan.
const KeyWalkingDir = "WALKING_DIR"

// Entry is one row of the index: a file or directory observed on disk.
type Entry struct {
	ID         int64
	Parent     string // absolute path of the containing directory
	Name       string // base name within Parent
	IsDir      bool
	Size       int64 // 0 for directories
	Permission uint32
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time // nil while the entry is live
}

// Path returns the absolute path of the entry.
func (e *Entry) Path() string {
	return filepath.Join(e.Parent, e.Name)
}

// Live reports whether the entry has not been soft-deleted.
func (e *Entry) Live() bool {
	return e.DeletedAt == nil
}

// WalkEntry is the on-disk metadata of a single path, as read by a FilesystemManager.
type WalkEntry struct {
	Parent     string
	Name       string
	IsDir      bool
	Size       int64
	Permission uint32
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// NewEntry builds an unpersisted Entry from freshly read metadata.
func NewEntry(w *WalkEntry) *Entry {
	size := w.Size
	if w.IsDir {
		size = 0
	}
	return &Entry{
		Parent:     w.Parent,
		Name:       w.Name,
		IsDir:      w.IsDir,
		Size:       size,
		Permission: w.Permission,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.ModifiedAt,
	}
}

// SplitPath splits a path into the (parent, name) key used by the store.
func SplitPath(path string) (parent, name string) {
	clean := filepath.Clean(path)
	return filepath.Dir(clean), filepath.Base(clean)
}
