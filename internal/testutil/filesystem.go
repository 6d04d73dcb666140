package testutil

import (
	"fmt"
	"io/fs"
	"iter"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"niko/internal/index"
)

// MockFile represents a file or directory in the mock filesystem.
type MockFile struct {
	Size        int64
	Permissions fs.FileMode
	IsDirectory bool
	CreatedAt   time.Time
	ModTime     time.Time
	// Unreadable makes Stat and Walk fail for this path.
	Unreadable bool
}

// MockFilesystemManager is an in-memory filesystem for testing.
// Paths are absolute and cleaned. Safe for concurrent use.
type MockFilesystemManager struct {
	mu    sync.Mutex
	files map[string]*MockFile
	now   time.Time
}

// NewMockFilesystemManager creates a new mock filesystem whose entries are
// stamped with the given time.
func NewMockFilesystemManager(now time.Time) *MockFilesystemManager {
	return &MockFilesystemManager{
		files: make(map[string]*MockFile),
		now:   now,
	}
}

// AddFile adds a regular file of the given size.
func (m *MockFilesystemManager) AddFile(path string, size int64) *MockFile {
	return m.add(path, &MockFile{Size: size, Permissions: 0644})
}

// AddDirectory adds a directory.
func (m *MockFilesystemManager) AddDirectory(path string) *MockFile {
	return m.add(path, &MockFile{Permissions: fs.ModeDir | 0755, IsDirectory: true})
}

func (m *MockFilesystemManager) add(path string, f *MockFile) *MockFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.CreatedAt = m.now
	f.ModTime = m.now
	m.files[filepath.Clean(path)] = f
	return f
}

// Modify changes a file's size and modification time.
func (m *MockFilesystemManager) Modify(path string, size int64, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[filepath.Clean(path)]
	if !ok {
		panic(fmt.Sprintf("testutil: modify of unknown path %s", path))
	}
	f.Size = size
	f.ModTime = modTime
}

// Remove deletes path and everything beneath it.
func (m *MockFilesystemManager) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clean := filepath.Clean(path)
	for p := range m.files {
		if p == clean || strings.HasPrefix(p, clean+string(filepath.Separator)) {
			delete(m.files, p)
		}
	}
}

// SetUnreadable marks path as unreadable (or readable again).
func (m *MockFilesystemManager) SetUnreadable(path string, unreadable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[filepath.Clean(path)]; ok {
		f.Unreadable = unreadable
	}
}

// Walk yields every readable entry beneath root in lexical path order, which
// puts each directory before its contents. Unreadable directories hide
// their contents.
func (m *MockFilesystemManager) Walk(root string) iter.Seq[*index.WalkEntry] {
	return func(yield func(*index.WalkEntry) bool) {
		root = filepath.Clean(root)
		prefix := root + string(filepath.Separator)

		m.mu.Lock()
		var paths []string
		for p := range m.files {
			if strings.HasPrefix(p, prefix) {
				paths = append(paths, p)
			}
		}
		slices.Sort(paths)
		entries := make([]*index.WalkEntry, 0, len(paths))
		var hidden []string
		for _, p := range paths {
			if m.underAny(p, hidden) {
				continue
			}
			f := m.files[p]
			if f.Unreadable {
				hidden = append(hidden, p)
				continue
			}
			entries = append(entries, toWalkEntry(p, f))
		}
		m.mu.Unlock()

		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

func (m *MockFilesystemManager) underAny(p string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(p, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Stat returns the metadata of path, or an error wrapping fs.ErrNotExist or fs.ErrPermission.
func (m *MockFilesystemManager) Stat(path string) (*index.WalkEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clean := filepath.Clean(path)
	f, ok := m.files[clean]
	if !ok {
		return nil, fmt.Errorf("stat %s: %w", clean, fs.ErrNotExist)
	}
	if f.Unreadable {
		return nil, fmt.Errorf("stat %s: %w", clean, fs.ErrPermission)
	}
	return toWalkEntry(clean, f), nil
}

func toWalkEntry(path string, f *MockFile) *index.WalkEntry {
	return &index.WalkEntry{
		Parent:     filepath.Dir(path),
		Name:       filepath.Base(path),
		IsDir:      f.IsDirectory,
		Size:       f.Size,
		Permission: uint32(f.Permissions),
		CreatedAt:  f.CreatedAt,
		ModifiedAt: f.ModTime,
	}
}

// Compile-time check
var _ index.FilesystemManager = (*MockFilesystemManager)(nil)
