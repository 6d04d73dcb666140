package index

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultStaleAfter is how old the last full scan may be before startup rescans.
const DefaultStaleAfter = 12 * time.Hour

// bookkeepingDone is the value stored under KeyWalkingDir after a scan.
const bookkeepingDone = "done"

// Publisher receives the index after every completed full scan.
type Publisher interface {
	Publish(ctx context.Context, version int64) error
}

// StalenessController decides once, at startup, whether the index needs a full rescan.
type StalenessController struct {
	store      Store
	scanner    *Scanner
	publisher  Publisher
	logger     Logger
	clock      Clock
	root       string
	staleAfter time.Duration
}

// NewStalenessController creates a controller for root. A zero staleAfter
// selects DefaultStaleAfter. publisher may be nil.
func NewStalenessController(store Store, scanner *Scanner, publisher Publisher, logger Logger, clock Clock, root string, staleAfter time.Duration) *StalenessController {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &StalenessController{
		store:      store,
		scanner:    scanner,
		publisher:  publisher,
		logger:     logger,
		clock:      clock,
		root:       root,
		staleAfter: staleAfter,
	}
}

// Freshness is the outcome of the staleness check.
type Freshness struct {
	Stale       bool
	NeverWalked bool
	LastScanAt  time.Time // zero when NeverWalked
}

// Check reads the bookkeeping record and applies the staleness policy.
func (c *StalenessController) Check(ctx context.Context) (*Freshness, error) {
	last, err := c.store.FindBookkeeping(ctx, KeyWalkingDir)
	if errors.Is(err, ErrNotFound) {
		return &Freshness{Stale: true, NeverWalked: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last scan time: %w", err)
	}

	age := c.clock.Now().Sub(last)
	return &Freshness{Stale: age > c.staleAfter, LastScanAt: last}, nil
}

// Run performs the startup check and scans when the index is stale.
// It returns a nil result when the index was fresh and nothing was scanned.
func (c *StalenessController) Run(ctx context.Context) (*ScanResult, error) {
	f, err := c.Check(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case f.NeverWalked:
		c.logger.Info("no previous scan recorded, scanning before serving", "root", c.root)
	case f.Stale:
		c.logger.Info("last scan is stale, rescanning", "last_scan", f.LastScanAt, "stale_after", c.staleAfter)
	default:
		c.logger.Info("index is fresh, skipping scan", "last_scan", f.LastScanAt)
		return nil, nil
	}

	return c.Scan(ctx)
}

// Scan runs a full scan regardless of the policy and records its completion.
func (c *StalenessController) Scan(ctx context.Context) (*ScanResult, error) {
	result, err := c.scanner.Scan(ctx, c.root)
	if err != nil {
		return nil, err
	}

	finished := c.clock.Now()
	if err := c.store.UpsertBookkeeping(ctx, KeyWalkingDir, bookkeepingDone, finished); err != nil {
		return nil, fmt.Errorf("recording scan completion: %w", err)
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, finished.Unix()); err != nil {
			c.logger.Warn("publishing index snapshot failed", "error", err)
		}
	}

	return result, nil
}
