package fs

import (
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"niko/internal/index"
)

// Options configures how the tree is read.
type Options struct {
	// FollowSymlinks reports symlinks by their target's metadata and descends
	// into symlinked directories. Each canonical directory is descended at
	// most once, which also stops symlink cycles.
	FollowSymlinks bool
	// MaxDepth limits recursion below the root; 0 means unlimited.
	MaxDepth int
	// Ignore is matched against paths relative to the walk root.
	Ignore *IgnoreMatcher
}

// OSFilesystemManager is the real filesystem implementation of index.FilesystemManager.
type OSFilesystemManager struct {
	followSymlinks bool
	maxDepth       int
	ignore         *IgnoreMatcher
	logger         index.Logger
}

// NewOSFilesystemManager creates a filesystem manager that reads the real filesystem.
func NewOSFilesystemManager(opts Options, logger index.Logger) *OSFilesystemManager {
	ignore := opts.Ignore
	if ignore == nil {
		ignore = NewIgnoreMatcher(nil)
	}
	return &OSFilesystemManager{
		followSymlinks: opts.FollowSymlinks,
		maxDepth:       opts.MaxDepth,
		ignore:         ignore,
		logger:         logger,
	}
}

// Walk yields every entry beneath root, depth first, directories before
// their contents. Unreadable entries are skipped.
func (m *OSFilesystemManager) Walk(root string) iter.Seq[*index.WalkEntry] {
	return m.WalkUnder(root, root)
}

// WalkUnder walks dir, a directory inside root, applying ignore patterns
// relative to root.
func (m *OSFilesystemManager) WalkUnder(root, dir string) iter.Seq[*index.WalkEntry] {
	return func(yield func(*index.WalkEntry) bool) {
		root, dir := filepath.Clean(root), filepath.Clean(dir)
		visited := make(map[string]struct{})
		if m.followSymlinks {
			if canon, err := filepath.EvalSymlinks(dir); err == nil {
				visited[canon] = struct{}{}
			}
		}
		m.walkDir(root, dir, 1, visited, yield)
	}
}

// walkDir returns false once the consumer has stopped the iteration.
func (m *OSFilesystemManager) walkDir(root, dir string, depth int, visited map[string]struct{}, yield func(*index.WalkEntry) bool) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		m.logger.Debug("skipping unreadable directory", "path", dir, "error", err)
		return true
	}

	for _, de := range entries {
		p := filepath.Join(dir, de.Name())
		if m.Ignored(root, p) {
			continue
		}

		info, err := m.stat(p)
		if err != nil {
			m.logger.Debug("skipping unreadable entry", "path", p, "error", err)
			continue
		}

		if !yield(m.walkEntry(dir, de.Name(), p, info)) {
			return false
		}

		if !info.IsDir() || (m.maxDepth > 0 && depth >= m.maxDepth) {
			continue
		}
		if m.followSymlinks {
			canon, err := filepath.EvalSymlinks(p)
			if err != nil {
				m.logger.Debug("skipping unresolvable directory", "path", p, "error", err)
				continue
			}
			if _, seen := visited[canon]; seen {
				m.logger.Debug("directory already walked, not descending", "path", p, "target", canon)
				continue
			}
			visited[canon] = struct{}{}
		}
		if !m.walkDir(root, p, depth+1, visited, yield) {
			return false
		}
	}
	return true
}

// Stat reads the current metadata of path.
func (m *OSFilesystemManager) Stat(path string) (*index.WalkEntry, error) {
	clean := filepath.Clean(path)
	info, err := m.stat(clean)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", clean, err)
	}
	parent, name := index.SplitPath(clean)
	return m.walkEntry(parent, name, clean, info), nil
}

// Ignored reports whether path, which must lie beneath root, matches an ignore pattern.
func (m *OSFilesystemManager) Ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return m.ignore.Match(rel)
}

func (m *OSFilesystemManager) stat(path string) (fs.FileInfo, error) {
	if m.followSymlinks {
		return os.Stat(path)
	}
	return os.Lstat(path)
}

func (m *OSFilesystemManager) walkEntry(parent, name, path string, info fs.FileInfo) *index.WalkEntry {
	created, perm := extractStat(path, info, m.followSymlinks)
	return &index.WalkEntry{
		Parent:     parent,
		Name:       name,
		IsDir:      info.IsDir(),
		Size:       info.Size(),
		Permission: perm,
		CreatedAt:  created,
		ModifiedAt: info.ModTime(),
	}
}

// Compile-time check that OSFilesystemManager implements index.FilesystemManager
var _ index.FilesystemManager = (*OSFilesystemManager)(nil)
