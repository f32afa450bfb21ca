package wrap

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func keypair(t *testing.T) (priv []byte, pubHex string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub := crypto.FromECDSAPub(&key.PublicKey)
	return crypto.FromECDSA(key), hex.EncodeToString(pub[1:])
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	priv, pubHex := keypair(t)
	secret := make([]byte, 32)
	rand.Read(secret)

	blob, err := Wrap(pubHex, secret)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	got, err := Unwrap(priv, blob)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Fatalf("round trip mismatch")
	}
}

func TestUnwrapWrongKey(t *testing.T) {
	_, pubHex := keypair(t)
	otherPriv, _ := keypair(t)

	blob, err := Wrap(pubHex, []byte("room key material 0123456789abcd"))
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if _, err := Unwrap(otherPriv, blob); err == nil {
		t.Fatal("expected Unwrap with wrong key to fail")
	}
}

func TestWrapRejectsBadPublicKey(t *testing.T) {
	if _, err := Wrap("abcd", []byte("k")); err == nil {
		t.Fatal("expected short public key to be rejected")
	}
	if _, err := Wrap("zz", []byte("k")); err == nil {
		t.Fatal("expected non-hex public key to be rejected")
	}
}
