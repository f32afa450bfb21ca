package encryption

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/timloh-professional/origin/internal/model"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	for _, plaintext := range []string{
		`{"created":1700000000000,"content":"hi"}`,
		"short",
		"unicode ẩṽé content ✓",
	} {
		iv, ct, err := Encrypt(key, plaintext)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		got, err := Decrypt(key, iv, ct)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if got != plaintext {
			t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	k1, k2 := testKey(t), testKey(t)
	iv, ct, err := Encrypt(k1, "a perfectly ordinary message")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := Decrypt(k2, iv, ct); !errors.Is(err, model.ErrNotDecryptable) {
		t.Fatalf("expected ErrNotDecryptable, got %v", err)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	key := testKey(t)
	iv, ct, err := Encrypt(key, "do not touch")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	// flip a base64 character somewhere in the middle
	tampered := []byte(ct)
	if tampered[3] == 'A' {
		tampered[3] = 'B'
	} else {
		tampered[3] = 'A'
	}
	if _, err := Decrypt(key, iv, string(tampered)); !errors.Is(err, model.ErrNotDecryptable) {
		t.Fatalf("expected ErrNotDecryptable, got %v", err)
	}
}

func TestDecryptGarbage(t *testing.T) {
	key := testKey(t)
	if _, err := Decrypt(key, "!!!", "???"); !errors.Is(err, model.ErrNotDecryptable) {
		t.Fatalf("expected ErrNotDecryptable on bad base64, got %v", err)
	}
	if _, err := Decrypt(key, "AAAAAAAAAAAAAAAAAAAAAA==", ""); !errors.Is(err, model.ErrNotDecryptable) {
		t.Fatalf("expected ErrNotDecryptable on empty ciphertext, got %v", err)
	}
}

func TestIntegrityTagLength(t *testing.T) {
	tag := integrityTag([]byte("anything"))
	if len(tag) != tagLen {
		t.Fatalf("tag length %d, want %d", len(tag), tagLen)
	}
}
