package fs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"niko/internal/index"
)

// DefaultQueueSize is the capacity of the change queue between the fsnotify
// reader and the index watcher.
const DefaultQueueSize = 100

// NotifySource turns fsnotify events under a root into index.Change values.
//
// fsnotify watches single directories, so every directory beneath the root
// is registered at Start and directories created later are registered when
// their Create event arrives. Their contents are walked and reported as
// created, since files may appear before the new watch is in place.
//
// Changes go through a bounded queue; when it is full the reader blocks
// rather than drop events.
type NotifySource struct {
	root    string
	fsmgr   *OSFilesystemManager
	watcher *fsnotify.Watcher
	queue   *index.ChannelSource
	logger  index.Logger

	mu   sync.Mutex
	dirs map[string]struct{}

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewNotifySource creates a source for root. queueSize <= 0 selects DefaultQueueSize.
func NewNotifySource(root string, fsmgr *OSFilesystemManager, queueSize int, logger index.Logger) (*NotifySource, error) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &NotifySource{
		root:    filepath.Clean(root),
		fsmgr:   fsmgr,
		watcher: w,
		queue:   index.NewChannelSource(queueSize),
		logger:  logger,
		dirs:    make(map[string]struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start registers watches for the whole tree and begins delivering changes.
func (s *NotifySource) Start(ctx context.Context) error {
	if err := s.addWatch(s.root); err != nil {
		return fmt.Errorf("watching %s: %w", s.root, err)
	}
	for w := range s.fsmgr.Walk(s.root) {
		if w.IsDir {
			s.tryAddWatch(filepath.Join(w.Parent, w.Name))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)

	s.logger.Info("watching directory tree", "root", s.root, "directories", s.watchCount())
	return nil
}

// Changes returns the ordered change queue. It is closed after Close.
func (s *NotifySource) Changes() <-chan index.Change {
	return s.queue.Changes()
}

// Close stops watching and waits for the reader goroutine to exit.
func (s *NotifySource) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel == nil {
			// Never started.
			s.queue.Close()
			s.closeErr = s.watcher.Close()
			return
		}
		s.cancel()
		s.closeErr = s.watcher.Close()
		<-s.done
	})
	return s.closeErr
}

func (s *NotifySource) run(ctx context.Context) {
	defer close(s.done)
	defer s.queue.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			for _, c := range s.translate(ev) {
				if !s.queue.Send(ctx, c) {
					return
				}
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				s.logger.Error("kernel event queue overflowed, changes were lost; run a full scan", "error", err)
				continue
			}
			s.logger.Error("filesystem watch error", "error", err)
		}
	}
}

// translate maps one fsnotify event to zero or more changes.
func (s *NotifySource) translate(ev fsnotify.Event) []index.Change {
	path := filepath.Clean(ev.Name)
	if s.fsmgr.Ignored(s.root, path) {
		return nil
	}
	detail := ev.String()

	switch {
	case path == s.root && !ev.Has(fsnotify.Remove):
		// The root has no row of its own.
		return []index.Change{{Kind: index.ChangeOther, Paths: []string{path}, Detail: detail}}

	case ev.Has(fsnotify.Remove):
		if s.forgetWatch(path) {
			return []index.Change{{Kind: index.ChangeRemoveFolder, Paths: []string{path}, Detail: detail}}
		}
		return []index.Change{{Kind: index.ChangeRemoveFile, Paths: []string{path}, Detail: detail}}

	case ev.Has(fsnotify.Rename):
		// The old name stops being watched; the new name arrives as a Create.
		if s.forgetWatch(path) {
			_ = s.watcher.Remove(path)
		}
		return []index.Change{{Kind: index.ChangeOther, Paths: []string{path}, Detail: detail}}

	case ev.Has(fsnotify.Create):
		changes := []index.Change{{Kind: index.ChangeCreateOrModify, Paths: []string{path}, Detail: detail}}
		meta, err := s.fsmgr.Stat(path)
		if err != nil || !meta.IsDir {
			return changes
		}
		s.tryAddWatch(path)
		for w := range s.fsmgr.WalkUnder(s.root, path) {
			p := filepath.Join(w.Parent, w.Name)
			if w.IsDir {
				s.tryAddWatch(p)
			}
			changes = append(changes, index.Change{Kind: index.ChangeCreateOrModify, Paths: []string{p}, Detail: "discovered in new directory"})
		}
		return changes

	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Chmod):
		return []index.Change{{Kind: index.ChangeCreateOrModify, Paths: []string{path}, Detail: detail}}

	default:
		return []index.Change{{Kind: index.ChangeOther, Paths: []string{path}, Detail: detail}}
	}
}

func (s *NotifySource) addWatch(dir string) error {
	if err := s.watcher.Add(dir); err != nil {
		return err
	}
	s.mu.Lock()
	s.dirs[dir] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *NotifySource) tryAddWatch(dir string) {
	if err := s.addWatch(dir); err != nil {
		s.logger.Error("cannot watch directory, changes inside it are missed until the next scan", "path", dir, "error", err)
	}
}

// forgetWatch drops dir from the watched set and reports whether it was there.
func (s *NotifySource) forgetWatch(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirs[dir]; !ok {
		return false
	}
	delete(s.dirs, dir)
	return true
}

func (s *NotifySource) watchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirs)
}

// Compile-time check that NotifySource implements index.ChangeSource
var _ index.ChangeSource = (*NotifySource)(nil)
