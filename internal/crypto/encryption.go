package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// DefaultKeyID is the default encryption key version
	DefaultKeyID = "v1"

	// SecretPrefix marks a config value produced by EncryptSecret.
	SecretPrefix = "enc:"
)

// ErrNoKey is returned when an encrypted secret is found but no key is
// configured.
var ErrNoKey = errors.New("encrypted secret found but no encryption key is configured; set security.encryption_key or MCPANEL_ENCRYPTION_KEY")

// EncryptionManager handles AES-256 encryption/decryption of config secrets
type EncryptionManager struct {
	key   []byte
	keyID string
}

// NewEncryptionManager creates a manager from a base64 key. Keys that are
// not 32 bytes long are stretched with SHA-256.
func NewEncryptionManager(keyStr string) (*EncryptionManager, error) {
	if keyStr == "" {
		return nil, ErrNoKey
	}
	decoded, err := base64.StdEncoding.DecodeString(keyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key format (must be base64): %w", err)
	}

	key := decoded
	if len(decoded) != 32 {
		hash := sha256.Sum256(decoded)
		key = hash[:]
	}
	return &EncryptionManager{
		key:   key,
		keyID: DefaultKeyID,
	}, nil
}

// GenerateKey returns a random base64 encoded 256-bit key.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt encrypts plaintext using AES-256-GCM
func (em *EncryptionManager) Encrypt(plaintext string) ([]byte, error) {
	aesGCM, err := em.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aesGCM.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt decrypts ciphertext using AES-256-GCM
func (em *EncryptionManager) Decrypt(ciphertext []byte) (string, error) {
	aesGCM, err := em.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// GetKeyID returns the current encryption key ID/version
func (em *EncryptionManager) GetKeyID() string {
	return em.keyID
}

// EncryptSecret returns the "enc:<key id>:<base64>" form stored in config
// files.
func (em *EncryptionManager) EncryptSecret(plaintext string) (string, error) {
	ciphertext, err := em.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return SecretPrefix + em.keyID + ":" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptSecret reverses EncryptSecret.
func (em *EncryptionManager) DecryptSecret(value string) (string, error) {
	rest, ok := strings.CutPrefix(value, SecretPrefix)
	if !ok {
		return "", fmt.Errorf("value is not an encrypted secret")
	}
	keyID, payload, ok := strings.Cut(rest, ":")
	if !ok {
		return "", fmt.Errorf("malformed encrypted secret")
	}
	if keyID != em.keyID {
		return "", fmt.Errorf("secret was encrypted with key %q, have %q", keyID, em.keyID)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("malformed encrypted secret: %w", err)
	}
	return em.Decrypt(ciphertext)
}

// IsEncrypted reports whether value carries the encrypted secret prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

// Resolver decrypts config secrets on demand. A nil manager passes plain
// values through and fails on encrypted ones.
type Resolver struct {
	em *EncryptionManager
}

// NewResolver builds a resolver from the configured key. An empty key is
// allowed as long as no encrypted secret is resolved.
func NewResolver(keyStr string) (*Resolver, error) {
	if keyStr == "" {
		return &Resolver{}, nil
	}
	em, err := NewEncryptionManager(keyStr)
	if err != nil {
		return nil, err
	}
	return &Resolver{em: em}, nil
}

// Resolve returns the plaintext of value.
func (r *Resolver) Resolve(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if r == nil || r.em == nil {
		return "", ErrNoKey
	}
	return r.em.DecryptSecret(value)
}

func (em *EncryptionManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(em.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}
