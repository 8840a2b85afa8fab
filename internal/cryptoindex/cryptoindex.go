// Package cryptoindex encrypts every index key and posting before it
// leaves memory, per the invariant that no plaintext token or instance
// key is ever persisted.
package cryptoindex

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyCipher encrypts and decrypts index keys and posting tokens with a
// single database key, deriving a distinct subkey per purpose via HKDF
// so key material is never reused across contexts.
type KeyCipher struct {
	dbKey []byte
}

// NewKeyCipher wraps a raw database key. The key is never logged or
// persisted by this package.
func NewKeyCipher(dbKey []byte) *KeyCipher {
	return &KeyCipher{dbKey: dbKey}
}

func (c *KeyCipher) subkey(purpose string) ([]byte, error) {
	reader := hkdf.New(sha256.New, c.dbKey, nil, []byte(purpose))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("could not derive subkey for %s: %w", purpose, err)
	}
	return key, nil
}

func (c *KeyCipher) seal(purpose string, plaintext []byte) ([]byte, error) {
	key, err := c.subkey(purpose)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("could not init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("could not generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// sealDeterministic encrypts plaintext with a nonce derived from the
// plaintext itself via HMAC, rather than drawn from a random source,
// so the same plaintext always seals to the same ciphertext. This is
// required wherever the ciphertext is later used as an equality
// lookup key (the encrypted instance key), and must never be used for
// posting tokens or element IDs, where semantic security matters more
// than repeatable lookups.
func (c *KeyCipher) sealDeterministic(purpose string, plaintext []byte) ([]byte, error) {
	key, err := c.subkey(purpose)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("could not init cipher: %w", err)
	}

	nonceKey, err := c.subkey(purpose + "-nonce")
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, nonceKey)
	mac.Write(plaintext)
	nonce := mac.Sum(nil)[:aead.NonceSize()]

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *KeyCipher) open(purpose string, ciphertext []byte) ([]byte, error) {
	key, err := c.subkey(purpose)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("could not init cipher: %w", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("could not decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptIndexKeyBase64 encrypts an instance key and returns it base64
// encoded, the form used as the ElementDataOS key. Encryption is
// deterministic so that encrypting the same instance key twice (e.g.
// once while indexing, once later while looking up or deleting it)
// always yields the same ciphertext.
func (c *KeyCipher) EncryptIndexKeyBase64(instanceKey string) (string, error) {
	sealed, err := c.sealDeterministic("index-key", []byte(instanceKey))
	if err != nil {
		return "", fmt.Errorf("could not encrypt index key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptIndexKeyBase64 inverts EncryptIndexKeyBase64.
func (c *KeyCipher) DecryptIndexKeyBase64(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("could not decode index key: %w", err)
	}
	plaintext, err := c.open("index-key", sealed)
	if err != nil {
		return "", fmt.Errorf("could not decrypt index key: %w", err)
	}
	return string(plaintext), nil
}

// EncryptToken encrypts one posting token.
func (c *KeyCipher) EncryptToken(token string) ([]byte, error) {
	sealed, err := c.seal("posting-token", []byte(token))
	if err != nil {
		return nil, fmt.Errorf("could not encrypt token: %w", err)
	}
	return sealed, nil
}

// EncryptElementID encrypts a mail element identifier as stored on a
// posting.
func (c *KeyCipher) EncryptElementID(elementID string) ([]byte, error) {
	sealed, err := c.seal("element-id", []byte(elementID))
	if err != nil {
		return nil, fmt.Errorf("could not encrypt element id: %w", err)
	}
	return sealed, nil
}
