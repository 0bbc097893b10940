// Package vault keeps provider API keys encrypted at rest. Values are
// sealed with AES-256-GCM under a key derived from an operator-supplied
// master password via argon2id. The derived key lives only in memory and
// is zeroed when the vault locks.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
	kdfSaltLen = 16

	minMasterLen = 8
)

var (
	ErrLocked   = errors.New("vault is locked")
	ErrNotFound = errors.New("vault key not found")
)

// Vault is an in-memory map of sealed secrets. A disabled vault reports
// itself as unlocked so callers need no special casing, but sealing still
// requires a derived key.
type Vault struct {
	enabled bool

	mu     sync.RWMutex
	locked bool
	key    []byte
	salt   []byte
	sealed map[string][]byte
}

func New(enabled bool) (*Vault, error) {
	return &Vault{
		enabled: enabled,
		locked:  enabled,
		sealed:  make(map[string][]byte),
	}, nil
}

func (v *Vault) IsLocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.enabled && v.locked
}

// Unlock derives the sealing key from master. A fresh salt is generated on
// first unlock; restored vaults must have their salt installed beforehand
// or the derived key will not open existing ciphertexts.
func (v *Vault) Unlock(master []byte) error {
	if !v.enabled {
		return nil
	}
	if len(master) < minMasterLen {
		return fmt.Errorf("master password must be at least %d bytes", minMasterLen)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.salt == nil {
		salt := make([]byte, kdfSaltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("generate salt: %w", err)
		}
		v.salt = salt
	}
	v.key = argon2.IDKey(master, v.salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	v.locked = false
	return nil
}

// Lock zeroes the derived key. Sealed values stay resident and become
// readable again after the next successful Unlock.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
	v.locked = true
}

// Salt returns the KDF salt for persistence alongside the ciphertexts.
func (v *Vault) Salt() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.salt
}

// SetSalt installs a persisted salt. Call before Unlock when restoring.
func (v *Vault) SetSalt(salt []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.salt = salt
}

func (v *Vault) Set(name, value string) error {
	ct, err := v.Encrypt([]byte(value))
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.sealed[name] = ct
	v.mu.Unlock()
	return nil
}

func (v *Vault) Get(name string) (string, error) {
	v.mu.RLock()
	ct, ok := v.sealed[name]
	v.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	pt, err := v.Decrypt(ct)
	if err != nil {
		return "", fmt.Errorf("unseal %s: %w", name, err)
	}
	return string(pt), nil
}

func (v *Vault) Delete(name string) {
	v.mu.Lock()
	delete(v.sealed, name)
	v.mu.Unlock()
}

// Export returns the sealed values base64-encoded. The output is safe to
// write to storage; it never contains plaintext.
func (v *Vault) Export() map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]string, len(v.sealed))
	for name, ct := range v.sealed {
		out[name] = base64.StdEncoding.EncodeToString(ct)
	}
	return out
}

// Import loads previously exported ciphertexts. Entries replace any
// existing value under the same name.
func (v *Vault) Import(data map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for name, enc := range data {
		ct, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		v.sealed[name] = ct
	}
	return nil
}

// Encrypt seals plaintext with the current key. The nonce is prepended to
// the returned ciphertext.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

// aead builds the cipher for the current key. Callers hold v.mu.
func (v *Vault) aead() (cipher.AEAD, error) {
	if v.enabled && v.locked {
		return nil, ErrLocked
	}
	if len(v.key) != kdfKeyLen {
		return nil, errors.New("no sealing key derived")
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
