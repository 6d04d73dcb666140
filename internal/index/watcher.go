package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultRetryMax  = 5
	defaultRetryBase = 200 * time.Millisecond
	maxRetryDelay    = 30 * time.Second
)

// WatcherOptions tunes how the watcher reacts to failing store calls.
type WatcherOptions struct {
	// RetryMax is the number of retries after the first failed attempt.
	// Zero selects the default; use a negative value to disable retries.
	RetryMax int
	// RetryBase is the first backoff delay; it doubles on every retry.
	RetryBase time.Duration
}

// Watcher applies change notifications to the store, one at a time, in
// arrival order.
type Watcher struct {
	store     Store
	fsmgr     FilesystemManager
	logger    Logger
	clock     Clock
	retryMax  uint64
	retryBase time.Duration
}

// NewWatcher creates a Watcher.
func NewWatcher(store Store, fsmgr FilesystemManager, logger Logger, clock Clock, opts WatcherOptions) *Watcher {
	w := &Watcher{
		store:     store,
		fsmgr:     fsmgr,
		logger:    logger,
		clock:     clock,
		retryMax:  defaultRetryMax,
		retryBase: defaultRetryBase,
	}
	switch {
	case opts.RetryMax < 0:
		w.retryMax = 0
	case opts.RetryMax > 0:
		w.retryMax = uint64(opts.RetryMax)
	}
	if opts.RetryBase > 0 {
		w.retryBase = opts.RetryBase
	}
	return w
}

// Run consumes source until it is closed or ctx is cancelled. Cancellation
// and a closed source are a clean stop and return nil. A store error that
// survives all retries, or an invariant violation, stops the loop and is returned.
func (w *Watcher) Run(ctx context.Context, source ChangeSource) error {
	w.logger.Info("watcher started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil
		case c, ok := <-source.Changes():
			if !ok {
				w.logger.Info("change source closed, watcher stopped")
				return nil
			}
			if err := w.Apply(ctx, c); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("watcher terminated", "kind", c.Kind.String(), "error", err)
				return err
			}
		}
	}
}

// Apply performs the store mutations for a single change.
func (w *Watcher) Apply(ctx context.Context, c Change) error {
	switch c.Kind {
	case ChangeCreateOrModify:
		for _, p := range c.Paths {
			if err := w.createOrUpdate(ctx, p); err != nil {
				return err
			}
		}
	case ChangeRemoveFile:
		for _, p := range c.Paths {
			if err := w.removeFile(ctx, p); err != nil {
				return err
			}
		}
	case ChangeRemoveFolder:
		for _, p := range c.Paths {
			if err := w.removeFolder(ctx, p); err != nil {
				return err
			}
		}
	case ChangeOther:
		w.logger.Debug("unhandled change dropped", "paths", c.Paths, "detail", c.Detail)
	default:
		w.logger.Warn("unknown change kind dropped", "kind", int(c.Kind), "paths", c.Paths)
	}
	return nil
}

func (w *Watcher) createOrUpdate(ctx context.Context, path string) error {
	meta, err := w.fsmgr.Stat(filepath.Clean(path))
	if err != nil {
		// Removed again before we got to it; the remove notification follows.
		w.logger.Warn("cannot read changed path, skipping", "path", path, "error", err)
		return nil
	}

	var outcome upsertOutcome
	err = w.withRetry(ctx, "upsert", func(ctx context.Context) error {
		var err error
		outcome, err = reconcile(ctx, w.store, meta)
		return err
	})
	if err != nil {
		return err
	}

	if outcome == outcomeCreated {
		w.logger.Debug("entry created", "path", path)
	} else {
		w.logger.Debug("entry updated", "path", path)
	}
	return nil
}

// removeFile soft-deletes the row at path. A directory whose watch never
// registered is reported as a plain remove; its live row turns it into a
// folder removal.
func (w *Watcher) removeFile(ctx context.Context, path string) error {
	parent, name := SplitPath(path)

	var isDir bool
	err := w.withRetry(ctx, "lookup", func(ctx context.Context) error {
		e, err := w.store.Lookup(ctx, parent, name)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		isDir = e.IsDir
		return nil
	})
	if err != nil {
		return fmt.Errorf("looking up %s: %w", path, err)
	}
	if isDir {
		w.logger.Debug("removed path is an indexed directory", "path", path)
		return w.removeFolder(ctx, path)
	}

	now := w.clock.Now()
	var count int64
	err = w.withRetry(ctx, "remove-file", func(ctx context.Context) error {
		var err error
		count, err = w.store.SoftDeleteByPath(ctx, parent, name, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}

	w.logger.Debug("entry deleted", "path", path, "rows", count)
	return nil
}

// removeFolder soft-deletes the folder's own row and its direct children.
// Deeper descendants are left to their own notifications.
func (w *Watcher) removeFolder(ctx context.Context, path string) error {
	clean := filepath.Clean(path)
	parent, name := SplitPath(clean)
	now := w.clock.Now()

	var children, self int64
	err := w.withRetry(ctx, "remove-folder", func(ctx context.Context) error {
		var err error
		children, err = w.store.SoftDeleteByParent(ctx, clean, now)
		if err != nil {
			return err
		}
		self, err = w.store.SoftDeleteByPath(ctx, parent, name, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting folder %s: %w", path, err)
	}

	w.logger.Debug("folder deleted", "path", path, "children", children, "self", self)
	return nil
}

// withRetry runs op, retrying store errors with capped exponential backoff.
// Invariant violations are never retried.
func (w *Watcher) withRetry(ctx context.Context, what string, op func(context.Context) error) error {
	b := retry.NewExponential(w.retryBase)
	b = retry.WithCappedDuration(maxRetryDelay, b)
	b = retry.WithMaxRetries(w.retryMax, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil || errors.Is(err, ErrInvariantViolation) || ctx.Err() != nil {
			return err
		}
		w.logger.Warn("store operation failed, retrying", "op", what, "error", err)
		return retry.RetryableError(err)
	})
}
