package fs

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"niko/internal/index"
)

func collectPaths(t *testing.T, m *OSFilesystemManager, root string) []string {
	t.Helper()
	var paths []string
	for w := range m.Walk(root) {
		paths = append(paths, filepath.Join(w.Parent, w.Name))
	}
	return paths
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestOSFilesystemManager_Walk(t *testing.T) {
	t.Run("yields children but not the root", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		mustMkdir(t, filepath.Join(root, "sub"))
		mustWrite(t, filepath.Join(root, "sub", "a.txt"), "hello")

		m := NewOSFilesystemManager(Options{}, index.NewNopLogger())
		var got []*index.WalkEntry
		for w := range m.Walk(root) {
			got = append(got, w)
		}

		if len(got) != 2 {
			t.Fatalf("Walk() yielded %d entries, want 2", len(got))
		}
		dir, file := got[0], got[1]
		if dir.Parent != root || dir.Name != "sub" || !dir.IsDir {
			t.Errorf("first entry = %+v, want directory sub under root", dir)
		}
		if file.Parent != filepath.Join(root, "sub") || file.Name != "a.txt" || file.IsDir {
			t.Errorf("second entry = %+v, want file a.txt under sub", file)
		}
		if file.Size != 5 {
			t.Errorf("file size = %d, want 5", file.Size)
		}
		if file.Permission&0o777 != 0o644 {
			t.Errorf("file permission bits = %o, want 644", file.Permission&0o777)
		}
		if file.ModifiedAt.IsZero() || file.CreatedAt.IsZero() {
			t.Error("timestamps should be set")
		}
	})

	t.Run("empty directory yields nothing", func(t *testing.T) {
		t.Parallel()
		m := NewOSFilesystemManager(Options{}, index.NewNopLogger())
		if got := collectPaths(t, m, t.TempDir()); len(got) != 0 {
			t.Errorf("Walk() = %v, want empty", got)
		}
	})

	t.Run("stops when the consumer breaks", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		for _, n := range []string{"a", "b", "c"} {
			mustWrite(t, filepath.Join(root, n), n)
		}
		m := NewOSFilesystemManager(Options{}, index.NewNopLogger())
		count := 0
		for range m.Walk(root) {
			count++
			break
		}
		if count != 1 {
			t.Errorf("iterated %d times after break, want 1", count)
		}
	})

	t.Run("respects max depth", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		mustMkdir(t, filepath.Join(root, "a", "b"))
		mustWrite(t, filepath.Join(root, "a", "b", "deep.txt"), "x")

		m := NewOSFilesystemManager(Options{MaxDepth: 2}, index.NewNopLogger())
		got := collectPaths(t, m, root)
		want := []string{filepath.Join(root, "a"), filepath.Join(root, "a", "b")}
		if !slices.Equal(got, want) {
			t.Errorf("Walk() = %v, want %v", got, want)
		}
	})

	t.Run("skips ignored paths and their contents", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		mustMkdir(t, filepath.Join(root, "node_modules", "pkg"))
		mustWrite(t, filepath.Join(root, "node_modules", "pkg", "index.js"), "x")
		mustWrite(t, filepath.Join(root, "keep.txt"), "x")
		mustWrite(t, filepath.Join(root, "drop.log"), "x")

		m := NewOSFilesystemManager(Options{
			Ignore: NewIgnoreMatcher([]string{"node_modules/", "*.log"}),
		}, index.NewNopLogger())
		got := collectPaths(t, m, root)
		want := []string{filepath.Join(root, "keep.txt")}
		if !slices.Equal(got, want) {
			t.Errorf("Walk() = %v, want %v", got, want)
		}
	})

	t.Run("does not follow symlinks by default", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		target := t.TempDir()
		mustWrite(t, filepath.Join(target, "outside.txt"), "x")
		if err := os.Symlink(target, filepath.Join(root, "link")); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}

		m := NewOSFilesystemManager(Options{}, index.NewNopLogger())
		got := collectPaths(t, m, root)
		want := []string{filepath.Join(root, "link")}
		if !slices.Equal(got, want) {
			t.Errorf("Walk() = %v, want %v", got, want)
		}
	})

	t.Run("follows symlinks once per directory", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		mustMkdir(t, filepath.Join(root, "sub"))
		// sub/loop points back to the root.
		if err := os.Symlink(root, filepath.Join(root, "sub", "loop")); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}

		m := NewOSFilesystemManager(Options{FollowSymlinks: true}, index.NewNopLogger())
		got := collectPaths(t, m, root)
		want := []string{filepath.Join(root, "sub"), filepath.Join(root, "sub", "loop")}
		if !slices.Equal(got, want) {
			t.Errorf("Walk() = %v, want %v", got, want)
		}
	})

	t.Run("unreadable directory is skipped", func(t *testing.T) {
		t.Parallel()
		if os.Geteuid() == 0 {
			t.Skip("permissions are not enforced for root")
		}
		root := t.TempDir()
		locked := filepath.Join(root, "locked")
		mustMkdir(t, locked)
		mustWrite(t, filepath.Join(locked, "secret"), "x")
		if err := os.Chmod(locked, 0); err != nil {
			t.Fatalf("chmod: %v", err)
		}
		t.Cleanup(func() { os.Chmod(locked, 0755) })

		m := NewOSFilesystemManager(Options{}, index.NewNopLogger())
		got := collectPaths(t, m, root)
		want := []string{locked}
		if !slices.Equal(got, want) {
			t.Errorf("Walk() = %v, want %v", got, want)
		}
	})
}

func TestOSFilesystemManager_Stat(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	mustWrite(t, path, "abc")
	m := NewOSFilesystemManager(Options{}, index.NewNopLogger())

	t.Run("existing file", func(t *testing.T) {
		w, err := m.Stat(path)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if w.Parent != root || w.Name != "f.txt" || w.Size != 3 || w.IsDir {
			t.Errorf("Stat() = %+v", w)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := m.Stat(filepath.Join(root, "nope"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Stat() error = %v, want not-exist", err)
		}
	})
}
