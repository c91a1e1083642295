package storage

import (
	"context"
	"fmt"

	"github.com/CreativeUnicorns/prefstore"
	"github.com/CreativeUnicorns/prefstore/encryption"
)

// EncryptedStorage encrypts string and string-set values before they reach the inner storage.
// Other kinds are stored as-is. Values that fail to decrypt are reported as prefstore.ErrDecode,
// so the preference falls back to its default.
type EncryptedStorage struct {
	prefstore.Storage
	cipher *encryption.Cipher
}

// NewEncryptedStorage wraps inner with c.
func NewEncryptedStorage(inner prefstore.Storage, c *encryption.Cipher) *EncryptedStorage {
	return &EncryptedStorage{Storage: inner, cipher: c}
}

// Get reads and decrypts the value stored under key.
func (s *EncryptedStorage) Get(ctx context.Context, key string) (prefstore.Value, error) {
	v, err := s.Storage.Get(ctx, key)
	if err != nil {
		return v, err
	}

	switch v.Kind {
	case prefstore.KindString:
		plain, err := s.cipher.Decrypt(v.Str)
		if err != nil {
			return prefstore.Value{}, fmt.Errorf("%w: key %q: %w", prefstore.ErrDecode, key, err)
		}
		return prefstore.StringValue(plain), nil
	case prefstore.KindStringSet:
		members := make([]string, 0, len(v.Set))
		for _, m := range v.Set {
			plain, err := s.cipher.Decrypt(m)
			if err != nil {
				return prefstore.Value{}, fmt.Errorf("%w: key %q: %w", prefstore.ErrDecode, key, err)
			}
			members = append(members, plain)
		}
		return prefstore.StringSetValue(members), nil
	}
	return v, nil
}

// Set encrypts value and writes it to the inner storage.
func (s *EncryptedStorage) Set(ctx context.Context, key string, value prefstore.Value) error {
	switch value.Kind {
	case prefstore.KindString:
		sealed, err := s.cipher.Encrypt(value.Str)
		if err != nil {
			return fmt.Errorf("%w: key %q: %w", prefstore.ErrEncode, key, err)
		}
		value = prefstore.StringValue(sealed)
	case prefstore.KindStringSet:
		members := make([]string, 0, len(value.Set))
		for _, m := range value.Set {
			sealed, err := s.cipher.Encrypt(m)
			if err != nil {
				return fmt.Errorf("%w: key %q: %w", prefstore.ErrEncode, key, err)
			}
			members = append(members, sealed)
		}
		value = prefstore.StringSetValue(members)
	}
	return s.Storage.Set(ctx, key, value)
}
