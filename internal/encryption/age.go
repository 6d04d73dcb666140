package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"niko/internal/config"
	"niko/internal/index"
)

// ErrKeysExist is returned by Setup when snapshot keys are already present.
// Replacing them would leave every published snapshot unreadable.
var ErrKeysExist = errors.New("snapshot keys already exist")

// AgeEncryptor seals index snapshots for an age X25519 key pair.
//
// The recipient is stored in the clear, so a serving process publishes
// without ever asking for a passphrase. The identity is itself sealed with an
// scrypt passphrase and only opened when a snapshot is pulled.
type AgeEncryptor struct {
	recipientPath string
	identityPath  string

	mu        sync.Mutex
	recipient age.Recipient
}

var _ index.Encryptor = (*AgeEncryptor)(nil)

func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		recipientPath: cfg.PublicKeyPath,
		identityPath:  cfg.PrivateKeyPath,
	}
}

// Setup creates the key pair. The sealed identity is written first, so a
// recipient file on disk always has its private half next to it.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("snapshot key passphrase is empty")
	}
	if e.IsConfigured() {
		return ErrKeysExist
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating snapshot key: %w", err)
	}
	sealed, err := sealIdentity(id, passphrase)
	if err != nil {
		return err
	}

	if err := writeKeyFile(e.identityPath, sealed, 0600); err != nil {
		return err
	}
	if err := writeKeyFile(e.recipientPath, []byte(id.Recipient().String()+"\n"), 0644); err != nil {
		os.Remove(e.identityPath)
		return err
	}
	return nil
}

// Encrypt seals the snapshot read from r for the stored recipient.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.loadRecipient()
	if err != nil {
		return err
	}

	sw, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("sealing snapshot: %w", err)
	}
	if _, err := io.Copy(sw, r); err != nil {
		return fmt.Errorf("sealing snapshot: %w", err)
	}
	return sw.Close()
}

// Unlock opens the sealed identity with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (index.DecryptionContext, error) {
	sealed, err := os.ReadFile(e.identityPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no snapshot key at %s, run `niko keys init` first", e.identityPath)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot key: %w", err)
	}

	id, err := openIdentity(sealed, passphrase)
	if err != nil {
		return nil, err
	}
	return &AgeDecryptor{identity: id}, nil
}

// IsConfigured reports whether both halves of the key pair are on disk.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.recipientPath, e.identityPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (e *AgeEncryptor) loadRecipient() (age.Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipient != nil {
		return e.recipient, nil
	}

	data, err := os.ReadFile(e.recipientPath)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot recipient: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot recipient %s: %w", e.recipientPath, err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("snapshot recipient file %s is empty", e.recipientPath)
	}

	e.recipient = recipients[0]
	return e.recipient, nil
}

func sealIdentity(id *age.X25519Identity, passphrase string) ([]byte, error) {
	r, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving key from passphrase: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, r)
	if err != nil {
		return nil, fmt.Errorf("sealing snapshot key: %w", err)
	}
	if _, err := io.WriteString(w, id.String()+"\n"); err != nil {
		return nil, fmt.Errorf("sealing snapshot key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sealing snapshot key: %w", err)
	}
	return buf.Bytes(), nil
}

func openIdentity(sealed []byte, passphrase string) (age.Identity, error) {
	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving key from passphrase: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(sealed), scrypt)
	if err != nil {
		return nil, fmt.Errorf("unlocking snapshot key (wrong passphrase?): %w", err)
	}
	ids, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot key: %w", err)
	}
	if len(ids) == 0 {
		return nil, errors.New("snapshot key file holds no identity")
	}
	return ids[0], nil
}

func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// AgeDecryptor opens snapshots with an unlocked identity.
type AgeDecryptor struct {
	identity age.Identity
}

var _ index.DecryptionContext = (*AgeDecryptor)(nil)

func (d *AgeDecryptor) Decrypt(r io.Reader, w io.Writer) error {
	sr, err := age.Decrypt(r, d.identity)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	if _, err := io.Copy(w, sr); err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	return nil
}
