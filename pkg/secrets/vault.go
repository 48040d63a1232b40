// Package secrets stores encrypted credentials for workflow runs.
//
// The vault is a single JSON file holding AES-GCM encrypted values. The
// encryption key is derived from a passphrase with scrypt, so nothing
// on disk is usable without it.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"
)

// ErrSecretNotFound is returned when a secret key does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// ErrWrongPassphrase is returned when the passphrase cannot decrypt an
// existing vault.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// canary is a known plaintext encrypted at vault creation. Decrypting
// it on open verifies the passphrase before any secret is touched.
const canary = "flowcomposer"

const saltSize = 16

// storedSecret is one encrypted entry in the vault file.
type storedSecret struct {
	// Value is the hex-encoded AES-GCM ciphertext
	Value string `json:"value"`

	// CreatedAt is when the secret was first set
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the secret was last changed
	UpdatedAt time.Time `json:"updated_at"`
}

// vaultFile is the on-disk layout.
type vaultFile struct {
	Salt    string                  `json:"salt"`
	Check   string                  `json:"check"`
	Secrets map[string]storedSecret `json:"secrets"`
}

// Vault encrypts and persists secrets keyed by name.
type Vault struct {
	path string
	gcm  cipher.AEAD
	salt []byte

	mu      sync.RWMutex
	secrets map[string]storedSecret
}

// Open loads the vault at path, creating it if it does not exist. The
// passphrase is verified against existing vaults before any secret is
// read.
func Open(path, passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is required")
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return create(path, passphrase)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var file vaultFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse vault: %w", err)
	}

	salt, err := hex.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vault salt: %w", err)
	}

	gcm, err := buildCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		path:    path,
		gcm:     gcm,
		salt:    salt,
		secrets: file.Secrets,
	}
	if v.secrets == nil {
		v.secrets = make(map[string]storedSecret)
	}

	if plain, err := v.decrypt(file.Check); err != nil || plain != canary {
		return nil, ErrWrongPassphrase
	}

	return v, nil
}

// create initializes a new vault file with a fresh salt.
func create(path, passphrase string) (*Vault, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := buildCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		path:    path,
		gcm:     gcm,
		salt:    salt,
		secrets: make(map[string]storedSecret),
	}

	if err := v.save(); err != nil {
		return nil, err
	}

	return v, nil
}

// Set stores an encrypted secret, preserving CreatedAt on overwrite.
func (v *Vault) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("secret key is required")
	}

	encrypted, err := v.encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	secret := storedSecret{
		Value:     encrypted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := v.secrets[key]; ok {
		secret.CreatedAt = existing.CreatedAt
	}
	v.secrets[key] = secret

	return v.save()
}

// Get retrieves and decrypts a secret.
func (v *Vault) Get(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("secret key is required")
	}

	v.mu.RLock()
	secret, ok := v.secrets[key]
	v.mu.RUnlock()

	if !ok {
		return "", ErrSecretNotFound
	}

	value, err := v.decrypt(secret.Value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return value, nil
}

// Delete removes a secret.
func (v *Vault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.secrets[key]; !ok {
		return ErrSecretNotFound
	}
	delete(v.secrets, key)

	return v.save()
}

// List returns all secret keys in sorted order, without values.
func (v *Vault) List() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]string, 0, len(v.secrets))
	for key := range v.secrets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

// All returns every secret decrypted. It implements the secret source
// used by expression evaluation.
func (v *Vault) All() (map[string]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	values := make(map[string]string, len(v.secrets))
	for key, secret := range v.secrets {
		value, err := v.decrypt(secret.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt secret %s: %w", key, err)
		}
		values[key] = value
	}

	return values, nil
}

// save writes the vault file with owner-only permissions. Callers hold
// the write lock.
func (v *Vault) save() error {
	check, err := v.encrypt(canary)
	if err != nil {
		return fmt.Errorf("failed to encrypt vault check: %w", err)
	}

	file := vaultFile{
		Salt:    hex.EncodeToString(v.salt),
		Check:   check,
		Secrets: v.secrets,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}

	if dir := filepath.Dir(v.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create vault directory: %w", err)
		}
	}

	if err := os.WriteFile(v.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}

	return nil
}

// encrypt encrypts a plaintext value using AES-GCM with a random nonce
// prefix, returned as a hex string.
func (v *Vault) encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := v.gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return hex.EncodeToString(ciphertext), nil
}

// decrypt decrypts a hex-encoded ciphertext using AES-GCM.
func (v *Vault) decrypt(ciphertextHex string) (string, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %w", err)
	}

	nonceSize := v.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// buildCipher derives a 256-bit key from the passphrase with scrypt and
// wraps it in an AES-GCM AEAD.
func buildCipher(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
