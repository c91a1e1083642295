// Package encryption provides AES-256-GCM encryption of preference values at rest.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/scrypt"
)

const (
	// MinKeyLength is the minimum length of raw key material (32 bytes).
	MinKeyLength = 32
	// MinSaltLength is the minimum salt length accepted for passphrase derivation.
	MinSaltLength = 8
	// EnvKeyName is the environment variable read by NewCipherFromEnv.
	EnvKeyName = "PREFSTORE_ENCRYPTION_KEY"
)

// scrypt parameters for passphrase derivation.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var (
	// ErrInvalidKeyLength is returned when the key material is shorter than MinKeyLength.
	ErrInvalidKeyLength = errors.New("encryption key must be at least 32 bytes for AES-256")
	// ErrKeyNotFound is returned when the encryption key environment variable is not set.
	ErrKeyNotFound = errors.New("encryption key not found in environment variable " + EnvKeyName)
	// ErrInvalidPassphrase is returned when a passphrase or its salt is unusable.
	ErrInvalidPassphrase = errors.New("invalid passphrase or salt")
	// ErrEncryptionFailed is returned when encryption operation fails.
	ErrEncryptionFailed = errors.New("encryption operation failed")
	// ErrDecryptionFailed is returned when decryption operation fails.
	ErrDecryptionFailed = errors.New("decryption operation failed")
	// ErrInvalidCiphertext is returned when the ciphertext is malformed or too short.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")
)

// Cipher encrypts and decrypts strings with AES-256-GCM.
// Ciphertexts are base64 strings holding the nonce followed by the sealed data.
// A Cipher is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from raw key material of at least MinKeyLength bytes.
// The AES key is the SHA-256 digest of the material.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d", ErrInvalidKeyLength, len(key), MinKeyLength)
	}
	sum := sha256.Sum256(key)
	return newCipher(sum[:])
}

// NewCipherFromEnv creates a Cipher from the key in the EnvKeyName environment variable.
func NewCipherFromEnv() (*Cipher, error) {
	return NewCipherFromEnvVar(EnvKeyName)
}

// NewCipherFromEnvVar creates a Cipher from the key in the named environment variable.
func NewCipherFromEnvVar(name string) (*Cipher, error) {
	keyStr := os.Getenv(name)
	if keyStr == "" {
		if name == EnvKeyName {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("encryption key not found in environment variable %s", name)
	}
	return NewCipher([]byte(keyStr))
}

// NewCipherFromPassphrase derives an AES-256 key from passphrase and salt with scrypt.
func NewCipherFromPassphrase(passphrase, salt string) (*Cipher, error) {
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return newCipher(key)
}

// DeriveKey runs scrypt over passphrase and salt and returns a 32-byte key.
func DeriveKey(passphrase, salt string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalidPassphrase)
	}
	if len(salt) < MinSaltLength {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", ErrInvalidPassphrase, MinSaltLength)
	}
	key, err := scrypt.Key([]byte(passphrase), []byte(salt), scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPassphrase, err)
	}
	return key, nil
}

func newCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create cipher: %v", ErrEncryptionFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GCM: %v", ErrEncryptionFailed, err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce. The empty string encrypts to itself.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: failed to generate nonce: %v", ErrEncryptionFailed, err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrDecryptionFailed, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, data := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decrypt: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// ValidateKey checks the EnvKeyName environment variable without building a Cipher.
// It can be called early in application startup.
func ValidateKey() error {
	keyStr := os.Getenv(EnvKeyName)
	if keyStr == "" {
		return ErrKeyNotFound
	}
	if len(keyStr) < MinKeyLength {
		return fmt.Errorf("%w: got %d bytes, need at least %d", ErrInvalidKeyLength, len(keyStr), MinKeyLength)
	}
	return nil
}
