package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"niko/internal/index"
)

// ErrInjected is the error returned by FlakyStore while it is failing.
var ErrInjected = errors.New("injected store failure")

// FlakyStore wraps a Store and fails the next N mutating calls with ErrInjected.
type FlakyStore struct {
	index.Store

	mu       sync.Mutex
	failures int
	calls    int
	// UpdateCount, when set, replaces the affected-row count of every Update.
	UpdateCount *int64
}

// NewFlakyStore wraps s. It does not fail until FailNext is called.
func NewFlakyStore(s index.Store) *FlakyStore {
	return &FlakyStore{Store: s}
}

// FailNext makes the next n mutating calls fail.
func (f *FlakyStore) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

// Calls returns how many mutating calls were attempted, failed ones included.
func (f *FlakyStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FlakyStore) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return ErrInjected
	}
	return nil
}

func (f *FlakyStore) Insert(ctx context.Context, e *index.Entry) (int64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.Store.Insert(ctx, e)
}

func (f *FlakyStore) Update(ctx context.Context, e *index.Entry) (int64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	n, err := f.Store.Update(ctx, e)
	if err == nil && f.UpdateCount != nil {
		return *f.UpdateCount, nil
	}
	return n, err
}

func (f *FlakyStore) SoftDeleteByPath(ctx context.Context, parent, name string, at time.Time) (int64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.Store.SoftDeleteByPath(ctx, parent, name, at)
}

func (f *FlakyStore) SoftDeleteByParent(ctx context.Context, parent string, at time.Time) (int64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.Store.SoftDeleteByParent(ctx, parent, at)
}

func (f *FlakyStore) UpsertBookkeeping(ctx context.Context, key, value string, at time.Time) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.UpsertBookkeeping(ctx, key, value, at)
}
