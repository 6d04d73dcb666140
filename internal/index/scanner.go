package index

import (
	"context"
	"fmt"
	"time"
)

// ScanResult summarises one reconciling scan.
type ScanResult struct {
	Created  int
	Updated  int
	Duration time.Duration
}

// Scanner performs full reconciling scans of a directory tree.
//
// A scan creates rows for new paths and refreshes rows for known ones. It
// never soft-deletes: rows for paths that vanished while the watcher was not
// running stay live until a remove notification arrives for them.
type Scanner struct {
	store  Store
	fsmgr  FilesystemManager
	logger Logger
	clock  Clock
}

// NewScanner creates a Scanner over the given store and filesystem.
func NewScanner(store Store, fsmgr FilesystemManager, logger Logger, clock Clock) *Scanner {
	return &Scanner{
		store:  store,
		fsmgr:  fsmgr,
		logger: logger,
		clock:  clock,
	}
}

// Scan walks root and reconciles every entry with the store. The first store
// error aborts the scan and is returned; rows written before it are kept.
func (s *Scanner) Scan(ctx context.Context, root string) (*ScanResult, error) {
	start := s.clock.Now()
	result := &ScanResult{}

	s.logger.Info("scan started", "root", root)

	for w := range s.fsmgr.Walk(root) {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("scan cancelled: %w", err)
		}

		outcome, err := reconcile(ctx, s.store, w)
		if err != nil {
			return result, fmt.Errorf("scanning %s: %w", root, err)
		}

		switch outcome {
		case outcomeCreated:
			result.Created++
			s.logger.Debug("entry created", "parent", w.Parent, "name", w.Name)
		case outcomeUpdated:
			result.Updated++
		}
	}

	result.Duration = s.clock.Now().Sub(start)
	s.logger.Info("scan complete", "root", root, "created", result.Created, "updated", result.Updated)
	return result, nil
}
