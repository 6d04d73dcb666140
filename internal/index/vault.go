package index

import (
	"context"
	"io"
)

// Vault stores off-site copies of the index database.
// All operations stream through io.Reader/io.Writer.
type Vault interface {
	// PutSnapshot stores a named snapshot along with its version.
	// size is the number of bytes that will be read from r.
	PutSnapshot(ctx context.Context, name string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the latest snapshot stored under name to w.
	GetSnapshot(ctx context.Context, name string, w io.Writer) error

	// GetSnapshotVersion returns the version of the stored snapshot,
	// or 0 if nothing has been stored under name.
	GetSnapshotVersion(ctx context.Context, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible.
	ValidateSetup(ctx context.Context) error
}

// Encryptor protects snapshots before they leave the host.
// Encryption needs only the public key; decryption requires unlocking the
// private key with a passphrase.
type Encryptor interface {
	// Setup generates a key pair and protects the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a context able to decrypt snapshots.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether the key material exists.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
