package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestNewRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not base64", "!!!not-base64!!!"},
		{"wrong length", base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.key); err == nil {
				t.Errorf("New(%q) should fail", tt.key)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, plaintext := range []string{"a", "BQDn...long-access-token...xyz", strings.Repeat("x", 4096)} {
		enc, err := c.EncryptString(plaintext)
		if err != nil {
			t.Fatalf("EncryptString: %v", err)
		}
		if enc == plaintext {
			t.Fatal("ciphertext equals plaintext")
		}
		dec, err := c.DecryptString(enc)
		if err != nil {
			t.Fatalf("DecryptString: %v", err)
		}
		if dec != plaintext {
			t.Errorf("round trip mismatch: got %q", dec)
		}
	}
}

func TestEmptyStringRoundTrip(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	enc, err := c.EncryptString("")
	if err != nil || enc != "" {
		t.Errorf("EncryptString(\"\") = (%q, %v), want (\"\", nil)", enc, err)
	}
	dec, err := c.DecryptString("")
	if err != nil || dec != "" {
		t.Errorf("DecryptString(\"\") = (%q, %v), want (\"\", nil)", dec, err)
	}
}

func TestNonDeterministicNonce(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, _ := c.EncryptString("same input")
	b, _ := c.EncryptString("same input")
	if a == b {
		t.Error("two encryptions of the same plaintext should differ")
	}
}

func TestTamperDetection(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	enc, err := c.EncryptString("refresh-token-value")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(enc)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)
	if _, err := c.DecryptString(tampered); err == nil {
		t.Error("tampered ciphertext should fail authentication")
	}
}

func TestWrongKeyFails(t *testing.T) {
	c1, _ := New(testKey(t))
	c2, _ := New(testKey(t))
	enc, err := c1.EncryptString("secret")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if _, err := c2.DecryptString(enc); err == nil {
		t.Error("decrypting with a different key should fail")
	}
}

func TestDecryptTruncated(t *testing.T) {
	c, _ := New(testKey(t))
	short := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02})
	if _, err := c.DecryptString(short); err == nil {
		t.Error("truncated ciphertext should fail")
	}
	if _, err := c.DecryptString("not base64 at all!"); err == nil {
		t.Error("invalid base64 should fail")
	}
}
