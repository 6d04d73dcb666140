package index

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SnapshotName is the vault name under which the index database is stored.
const SnapshotName = "index"

// SnapshotPublisher copies the index database, encrypts it and uploads it to a vault.
type SnapshotPublisher struct {
	store     Store
	vault     Vault
	encryptor Encryptor
	logger    Logger
}

// NewSnapshotPublisher creates a publisher.
func NewSnapshotPublisher(store Store, vault Vault, encryptor Encryptor, logger Logger) *SnapshotPublisher {
	return &SnapshotPublisher{
		store:     store,
		vault:     vault,
		encryptor: encryptor,
		logger:    logger,
	}
}

// Publish uploads the current database as the given version. Versions not
// newer than the one already in the vault are skipped.
func (p *SnapshotPublisher) Publish(ctx context.Context, version int64) error {
	remote, err := p.vault.GetSnapshotVersion(ctx, SnapshotName)
	if err != nil {
		return fmt.Errorf("checking remote snapshot version: %w", err)
	}
	if remote >= version {
		p.logger.Info("snapshot already published", "version", remote)
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "niko-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating temp dir for snapshot: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	plainPath := filepath.Join(tmpDir, "index.db")
	if err := p.store.Snapshot(ctx, plainPath); err != nil {
		return fmt.Errorf("copying database: %w", err)
	}

	sealedPath := filepath.Join(tmpDir, "index.db.enc")
	if err := p.seal(plainPath, sealedPath); err != nil {
		return err
	}

	f, err := os.Open(sealedPath)
	if err != nil {
		return fmt.Errorf("opening sealed snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat sealed snapshot: %w", err)
	}

	if err := p.vault.PutSnapshot(ctx, SnapshotName, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}

	p.logger.Info("snapshot published", "version", version, "size", info.Size())
	return nil
}

// Pull downloads the latest snapshot and writes the decrypted database to w.
func (p *SnapshotPublisher) Pull(ctx context.Context, dec DecryptionContext, w io.Writer) (int64, error) {
	version, err := p.vault.GetSnapshotVersion(ctx, SnapshotName)
	if err != nil {
		return 0, fmt.Errorf("checking remote snapshot version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("no snapshot has been published")
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(p.vault.GetSnapshot(ctx, SnapshotName, pw))
	}()

	if err := dec.Decrypt(pr, w); err != nil {
		pr.CloseWithError(err)
		return 0, fmt.Errorf("decrypting snapshot: %w", err)
	}
	return version, nil
}

func (p *SnapshotPublisher) seal(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening database copy: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating sealed snapshot: %w", err)
	}

	if err := p.encryptor.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing sealed snapshot: %w", err)
	}
	return nil
}
