// Package crypto implements the AEAD wrapper EntiDB uses to protect
// payload bytes at rest: AES-256-GCM with a 12-byte random nonce and a
// 16-byte authentication tag, generalized from the teacher's
// pkg/security.SecretsManager to support associated data and a proper
// password-based key derivation function.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/cuemby/entidb/internal/errs"
)

const (
	// KeySize is the required AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
	// Overhead is the number of bytes encrypt adds to the plaintext:
	// nonce + tag. ciphertext length is always len(plaintext)+Overhead.
	Overhead = NonceSize + TagSize

	// MinSaltSize is the minimum caller-supplied salt length accepted
	// by FromPassword.
	MinSaltSize = 8

	// pbkdf2Iterations is the iteration count used for FromPassword's
	// key derivation, comfortably above spec.md §4.2's 100k floor.
	pbkdf2Iterations = 150_000
)

// Manager is an AEAD context over a single 32-byte key. It is safe for
// concurrent use by multiple goroutines; Close zeroizes the key and is
// idempotent.
type Manager struct {
	mu     sync.RWMutex
	key    []byte
	gcm    cipher.AEAD
	closed bool
}

// Create returns a Manager holding a freshly generated random key.
func Create() (*Manager, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errs.New(errs.InternalError, "crypto.Create", err)
	}
	return FromKey(key)
}

// FromKey builds a Manager from an existing 32-byte key. The key is
// copied; callers retain ownership of the slice they passed in.
func FromKey(key []byte) (*Manager, error) {
	if len(key) != KeySize {
		return nil, errs.New(errs.InvalidArgument, "crypto.FromKey", nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New(errs.InternalError, "crypto.FromKey", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.New(errs.InternalError, "crypto.FromKey", err)
	}
	owned := make([]byte, KeySize)
	copy(owned, key)
	return &Manager{key: owned, gcm: gcm}, nil
}

// FromPassword derives a 32-byte key from (password, salt) via
// PBKDF2-HMAC-SHA256 at pbkdf2Iterations rounds. salt must be at least
// MinSaltSize bytes and is caller-supplied (not generated here, so the
// same password deterministically yields the same key given the same
// salt).
func FromPassword(password string, salt []byte) (*Manager, error) {
	return FromPasswordWithIterations(password, salt, pbkdf2Iterations)
}

// FromPasswordWithIterations is FromPassword with a caller-chosen
// PBKDF2 round count, used when a process loads its own iteration
// count from config rather than taking the package default.
func FromPasswordWithIterations(password string, salt []byte, iterations int) (*Manager, error) {
	if len(salt) < MinSaltSize {
		return nil, errs.New(errs.InvalidArgument, "crypto.FromPasswordWithIterations", nil)
	}
	if iterations <= 0 {
		return nil, errs.New(errs.InvalidArgument, "crypto.FromPasswordWithIterations", nil)
	}
	key := pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
	return FromKey(key)
}

// NewSalt returns a fresh random salt of MinSaltSize bytes, suitable
// for a first call to FromPassword/FromPasswordWithIterations.
func NewSalt() ([]byte, error) {
	salt := make([]byte, MinSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errs.New(errs.InternalError, "crypto.NewSalt", err)
	}
	return salt, nil
}

// Encrypt seals plaintext with a fresh random nonce, returning
// nonce‖ciphertext‖tag.
func (m *Manager) Encrypt(plaintext []byte) ([]byte, error) {
	return m.EncryptWithAAD(plaintext, nil)
}

// EncryptWithAAD is Encrypt with additional authenticated data bound
// into the tag. aad is not stored in the output and must be supplied
// again, identically, to Decrypt.
func (m *Manager) EncryptWithAAD(plaintext, aad []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errs.New(errs.InvalidState, "crypto.Encrypt", nil)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.New(errs.InternalError, "crypto.Encrypt", err)
	}
	return m.gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt opens a blob produced by Encrypt.
func (m *Manager) Decrypt(blob []byte) ([]byte, error) {
	return m.DecryptWithAAD(blob, nil)
}

// DecryptWithAAD is Decrypt with the same aad that was bound at
// encryption time. A tag mismatch, truncated input, or mismatched AAD
// all fail with CryptoError.
func (m *Manager) DecryptWithAAD(blob, aad []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errs.New(errs.InvalidState, "crypto.Decrypt", nil)
	}
	if len(blob) < Overhead {
		return nil, errs.New(errs.CryptoError, "crypto.Decrypt", nil)
	}

	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := m.gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errs.New(errs.CryptoError, "crypto.Decrypt", err)
	}
	return plaintext, nil
}

// Close zeroizes the key material and marks the context unusable.
// Subsequent operations fail with InvalidState. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	for i := range m.key {
		m.key[i] = 0
	}
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *Manager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
