package encryption

import (
	"fmt"
	"io"

	"niko/internal/index"
)

// PlainEncryptor leaves snapshots unencrypted. Selected with encryption type "none".
type PlainEncryptor struct{}

var _ index.Encryptor = PlainEncryptor{}

func (PlainEncryptor) Setup(string) error { return nil }

func (PlainEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (PlainEncryptor) Unlock(string) (index.DecryptionContext, error) {
	return plainDecryptionContext{}, nil
}

// IsConfigured is always true: there is no key material.
func (PlainEncryptor) IsConfigured() bool { return true }

type plainDecryptionContext struct{}

func (plainDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
