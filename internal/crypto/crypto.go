// Package crypto provides the symmetric primitives used across the
// telemetry pipeline: AES-256-GCM for payload and at-rest encryption,
// HMAC-SHA256 integrity tags, and HKDF-based key derivation so that the
// cipher key and the tag secret come from a single master secret.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/agrimon/agrimon/internal/errors"
)

// KeySize is the required cipher key length in bytes (AES-256).
const KeySize = 32

// Cipher encrypts and decrypts byte payloads with AES-256-GCM.
// Ciphertexts are nonce-prefixed. The zero value is not usable; construct
// with NewCipher.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errors.Wrapf(errors.ErrInvalidKeyLength, "cipher key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrEncryption, err.Error())
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.ErrEncryption, err.Error())
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns nonce||ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(errors.ErrEncryption, err.Error())
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce-prefixed ciphertext.
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(blob) < ns {
		return nil, errors.Wrap(errors.ErrEncryption, "ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrEncryption, err.Error())
	}
	return plaintext, nil
}

// ChecksumHex computes the hex-encoded HMAC-SHA256 tag over data.
func ChecksumHex(secret, data []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyChecksumHex compares a hex tag against the expected tag for data
// in constant time.
func VerifyChecksumHex(secret, data []byte, tag string) bool {
	expected := ChecksumHex(secret, data)
	return hmac.Equal([]byte(expected), []byte(tag))
}

// DeriveKeys derives the AES cipher key and the HMAC tag secret from a
// master secret using HKDF-SHA256 with distinct info labels. Both outputs
// are stable for a given master secret.
func DeriveKeys(master []byte) (cipherKey, tagSecret []byte, err error) {
	if len(master) == 0 {
		return nil, nil, errors.Wrap(errors.ErrInvalidKeyLength, "empty master secret")
	}

	cipherKey = make([]byte, KeySize)
	h := hkdf.New(sha256.New, master, nil, []byte("agrimon-cipher"))
	if _, err := io.ReadFull(h, cipherKey); err != nil {
		return nil, nil, errors.Wrap(errors.ErrEncryption, err.Error())
	}

	tagSecret = make([]byte, KeySize)
	h = hkdf.New(sha256.New, master, nil, []byte("agrimon-tag"))
	if _, err := io.ReadFull(h, tagSecret); err != nil {
		return nil, nil, errors.Wrap(errors.ErrEncryption, err.Error())
	}

	return cipherKey, tagSecret, nil
}

// MustRandom returns n random bytes or panics. Used for key generation
// in tooling and tests.
func MustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return b
}
