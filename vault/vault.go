// Package vault stores the portal credentials encrypted at rest.
//
// The username/password pair is sealed with XChaCha20-Poly1305 using a key
// derived (scrypt) from an installation key file kept outside the database,
// so neither the database nor the key file alone reveals the credentials.
// Existence checks never decrypt. Passwords are never logged in clear.
package vault

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const saltSize = 16

// ErrNoCredentials is returned by Get when no credentials are stored.
var ErrNoCredentials = errors.New("vault: no credentials stored")

// Credentials is the portal login pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// String redacts the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q, Password: <redacted>}", c.Username)
}

// Vault seals and unseals credentials against the credentials table.
type Vault struct {
	db     *sql.DB
	secret []byte
}

// New creates a Vault backed by db, reading (or creating on first run) the
// installation key file at keyPath.
func New(db *sql.DB, keyPath string) (*Vault, error) {
	secret, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return &Vault{db: db, secret: secret}, nil
}

// HasCredentials reports whether a credential row exists, without decrypting.
func (v *Vault) HasCredentials(ctx context.Context) (bool, error) {
	var n int
	err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials WHERE id = 1`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("vault: existence check: %w", err)
	}
	return n > 0, nil
}

// Get decrypts and returns the stored credentials.
func (v *Vault) Get(ctx context.Context) (Credentials, error) {
	var nonce, sealed []byte
	err := v.db.QueryRowContext(ctx,
		`SELECT nonce, sealed FROM credentials WHERE id = 1`).Scan(&nonce, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("vault: read: %w", err)
	}
	if len(sealed) <= saltSize {
		return Credentials{}, fmt.Errorf("vault: sealed blob too short")
	}

	salt, ciphertext := sealed[:saltSize], sealed[saltSize:]
	aead, err := v.aead(salt)
	if err != nil {
		return Credentials{}, err
	}

	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("vault: unseal: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Credentials{}, fmt.Errorf("vault: decode: %w", err)
	}
	return creds, nil
}

// Put seals and stores the credentials, replacing any previous pair.
func (v *Vault) Put(ctx context.Context, creds Credentials) error {
	if creds.Username == "" || creds.Password == "" {
		return fmt.Errorf("vault: username and password are required")
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("vault: encode: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: salt: %w", err)
	}
	aead, err := v.aead(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: nonce: %w", err)
	}

	sealed := append(salt, aead.Seal(nil, nonce, plain, nil)...)

	_, err = v.db.ExecContext(ctx,
		`INSERT INTO credentials (id, nonce, sealed, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET nonce = excluded.nonce,
		     sealed = excluded.sealed, updated_at = excluded.updated_at`,
		nonce, sealed, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("vault: write: %w", err)
	}
	return nil
}

// Delete removes the stored credentials. Deleting an empty vault is a no-op.
func (v *Vault) Delete(ctx context.Context) error {
	if _, err := v.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("vault: delete: %w", err)
	}
	return nil
}

func (v *Vault) aead(salt []byte) (interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}, error) {
	key, err := scrypt.Key(v.secret, salt, 1<<15, 8, 1, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault: aead: %w", err)
	}
	return aead, nil
}

// loadOrCreateKey reads the installation key file, creating it with 32
// random bytes and 0600 permissions on first run.
func loadOrCreateKey(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil {
		if len(secret) < 16 {
			return nil, fmt.Errorf("vault: key file %s too short", path)
		}
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("vault: read key file: %w", err)
	}

	secret = make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("vault: generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("vault: mkdir: %w", err)
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, fmt.Errorf("vault: write key file: %w", err)
	}
	return secret, nil
}
