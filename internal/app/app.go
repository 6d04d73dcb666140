package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"niko/internal/config"
	"niko/internal/database"
	"niko/internal/encryption"
	"niko/internal/fs"
	"niko/internal/index"
	"niko/internal/vault"
)

// NikoApp is the application layer between the CLI and the index services.
// It constructs all dependencies from config, exposes high-level operations
// and closes the store and log file on Close.
type NikoApp struct {
	cfg       *config.Config
	store     database.Store
	fsmgr     *fs.OSFilesystemManager
	clock     index.Clock
	logger    *slog.Logger
	logCloser io.Closer
	op        *Operation

	scanner   *index.Scanner
	staleness *index.StalenessController
	watcher   *index.Watcher

	// Set only when snapshots are enabled.
	vault     index.Vault
	encryptor index.Encryptor
	publisher *index.SnapshotPublisher
}

// NewNikoApp creates a fully wired NikoApp from the given config.
// operation names the CLI command being run (e.g. "Serve", "Scan").
// The caller must call Close when done.
func NewNikoApp(ctx context.Context, cfg *config.Config, operation string) (*NikoApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := index.RealClock{}
	op := NewOperation(operation, clock.Now())

	logger, logCloser, err := newLogger(cfg.Log, op.RunID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a, err := wire(ctx, cfg, clock, logger)
	if err != nil {
		logCloser.Close()
		return nil, err
	}
	a.logCloser = logCloser
	a.op = op

	logger.Debug("operation started", "operation", op.Name, "root", cfg.Dir.Root)
	return a, nil
}

// wire builds the services over an already configured logger.
func wire(ctx context.Context, cfg *config.Config, clock index.Clock, logger *slog.Logger) (*NikoApp, error) {
	ignore, err := fs.LoadIgnoreMatcher(cfg.Dir.Root, cfg.Dir.Ignore)
	if err != nil {
		return nil, fmt.Errorf("loading ignore patterns: %w", err)
	}
	fsmgr := fs.NewOSFilesystemManager(fs.Options{
		FollowSymlinks: cfg.Dir.FollowSymlinks,
		MaxDepth:       cfg.Dir.MaxDepth,
		Ignore:         ignore,
	}, logger)

	store, err := database.NewStoreFromConfig(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	// An in-memory index starts empty on every run.
	if cfg.Database.Type == "memory" {
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrating in-memory database: %w", err)
		}
	}

	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date (run `niko migrate`): %w", err)
	}

	a := &NikoApp{
		cfg:    cfg,
		store:  store,
		fsmgr:  fsmgr,
		clock:  clock,
		logger: logger,
	}

	var publisher index.Publisher
	if cfg.Snapshot.Enabled {
		v, err := vault.NewVaultFromConfig(ctx, cfg.Snapshot.Vault)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("creating vault: %w", err)
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Snapshot.Encryption)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("creating encryptor: %w", err)
		}
		a.vault = v
		a.encryptor = enc
		a.publisher = index.NewSnapshotPublisher(store, v, enc, logger)
		publisher = a.publisher
	}

	a.scanner = index.NewScanner(store, fsmgr, logger, clock)
	a.staleness = index.NewStalenessController(store, a.scanner, publisher, logger, clock, cfg.Dir.Root, cfg.Index.StaleAfter.Duration)
	a.watcher = index.NewWatcher(store, fsmgr, logger, clock, index.WatcherOptions{
		RetryMax:  cfg.Watcher.RetryMax,
		RetryBase: cfg.Watcher.RetryBase.Duration,
	})
	return a, nil
}

// Serve runs the startup staleness check and then applies live filesystem
// changes until ctx is cancelled or SIGINT/SIGTERM is received.
func (a *NikoApp) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := a.staleness.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("startup scan: %w", err)
	}

	source, err := fs.NewNotifySource(a.cfg.Dir.Root, a.fsmgr, a.cfg.Watcher.QueueSize, a.logger)
	if err != nil {
		return fmt.Errorf("creating change source: %w", err)
	}
	if err := source.Start(ctx); err != nil {
		source.Close()
		return fmt.Errorf("starting change source: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return a.watcher.Run(gctx, source)
	})
	g.Go(func() error {
		<-gctx.Done()
		return source.Close()
	})
	return g.Wait()
}

// Scan runs the staleness policy, or a full scan regardless of it when force
// is set. A nil result means the index was fresh.
func (a *NikoApp) Scan(ctx context.Context, force bool) (*index.ScanResult, error) {
	if force {
		return a.staleness.Scan(ctx)
	}
	return a.staleness.Run(ctx)
}

// List returns one page of the index, live entries only unless all is set.
func (a *NikoApp) List(ctx context.Context, page, size int, all bool) ([]*index.Entry, error) {
	if all {
		return a.store.PageAll(ctx, page, size)
	}
	return a.store.Page(ctx, page, size)
}

// Status summarises the index.
type Status struct {
	Root       string
	Live       int64
	Freshness  *index.Freshness
	StaleAfter config.Duration
	// SnapshotVersion is -1 when snapshots are disabled and 0 when none was published.
	SnapshotVersion int64
}

// Status reports the live entry count, scan freshness and snapshot version.
func (a *NikoApp) Status(ctx context.Context) (*Status, error) {
	live, err := a.store.CountLive(ctx)
	if err != nil {
		return nil, err
	}
	fresh, err := a.staleness.Check(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Root:            a.cfg.Dir.Root,
		Live:            live,
		Freshness:       fresh,
		StaleAfter:      a.cfg.Index.StaleAfter,
		SnapshotVersion: -1,
	}
	if a.vault != nil {
		v, err := a.vault.GetSnapshotVersion(ctx, index.SnapshotName)
		if err != nil {
			return nil, fmt.Errorf("reading snapshot version: %w", err)
		}
		st.SnapshotVersion = v
	}
	return st, nil
}

// ErrSnapshotsDisabled is returned by snapshot operations when snapshot.enabled is false.
var ErrSnapshotsDisabled = errors.New("snapshots are disabled in the config")

// PushSnapshot publishes the index as of the last completed scan.
func (a *NikoApp) PushSnapshot(ctx context.Context) (int64, error) {
	if a.publisher == nil {
		return 0, ErrSnapshotsDisabled
	}
	fresh, err := a.staleness.Check(ctx)
	if err != nil {
		return 0, err
	}
	if fresh.NeverWalked {
		return 0, errors.New("the index has never been scanned")
	}

	version := fresh.LastScanAt.Unix()
	if err := a.publisher.Publish(ctx, version); err != nil {
		return 0, err
	}
	return version, nil
}

// PullSnapshot unlocks the private key and writes the latest decrypted snapshot to w.
func (a *NikoApp) PullSnapshot(ctx context.Context, passphrase string, w io.Writer) (int64, error) {
	if a.publisher == nil {
		return 0, ErrSnapshotsDisabled
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking private key: %w", err)
	}
	return a.publisher.Pull(ctx, dec, w)
}

// Finish records the outcome of the operation in the log.
func (a *NikoApp) Finish(err error) {
	a.op.Finish(err)
	a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status,
		"elapsed", a.clock.Now().Sub(a.op.StartedAt))
}

// Close closes the database and the log file.
func (a *NikoApp) Close() error {
	if !a.op.Finished() {
		a.Finish(nil)
	}

	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log: %w", err)
		}
	}
	return firstErr
}

// Migrate applies pending schema migrations to the configured database.
func Migrate(ctx context.Context, cfg *config.Config) error {
	store, err := database.NewStoreFromConfig(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// InitKeys generates the snapshot key pair, protecting the private key with passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Snapshot.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	return nil
}
