package crypto

import (
	"bytes"
	"testing"

	"github.com/agrimon/agrimon/internal/errors"
)

func TestCipher_RoundTrip(t *testing.T) {
	key := MustRandom(KeySize)
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	plaintext := []byte(`{"sensor_id":"soil-01","value":23.4}`)

	blob, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(blob, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	out, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Errorf("round trip mismatch: got %q", out)
	}
}

func TestCipher_TamperDetected(t *testing.T) {
	c, _ := NewCipher(MustRandom(KeySize))

	blob, err := c.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	blob[len(blob)-1] ^= 0x01

	if _, err := c.Decrypt(blob); !errors.IsEncryption(err) {
		t.Errorf("expected encryption error after tamper, got %v", err)
	}
}

func TestNewCipher_KeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33} {
		if _, err := NewCipher(MustRandom(n)); !errors.Is(err, errors.ErrInvalidKeyLength) {
			t.Errorf("key length %d: expected ErrInvalidKeyLength, got %v", n, err)
		}
	}
}

func TestChecksumHex(t *testing.T) {
	secret := []byte("secret")
	data := []byte("2024-03-01T00:00:00Z23.4Csoil-01")

	tag := ChecksumHex(secret, data)
	if !VerifyChecksumHex(secret, data, tag) {
		t.Error("tag should verify against its own data")
	}

	// Single-bit change to the data flips the result.
	altered := append([]byte(nil), data...)
	altered[0] ^= 0x01
	if VerifyChecksumHex(secret, altered, tag) {
		t.Error("tag should not verify after data change")
	}

	if VerifyChecksumHex([]byte("other"), data, tag) {
		t.Error("tag should not verify with a different secret")
	}
}

func TestDeriveKeys_Deterministic(t *testing.T) {
	master := []byte("master-secret")

	ck1, ts1, err := DeriveKeys(master)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	ck2, ts2, _ := DeriveKeys(master)

	if !bytes.Equal(ck1, ck2) || !bytes.Equal(ts1, ts2) {
		t.Error("derivation should be deterministic")
	}
	if bytes.Equal(ck1, ts1) {
		t.Error("cipher key and tag secret must differ")
	}
	if len(ck1) != KeySize || len(ts1) != KeySize {
		t.Errorf("derived key sizes: %d, %d", len(ck1), len(ts1))
	}

	if _, _, err := DeriveKeys(nil); err == nil {
		t.Error("empty master secret should fail")
	}
}
