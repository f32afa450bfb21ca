package keys

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestDeriveMessagingKeyDeterministic(t *testing.T) {
	sig := make([]byte, 65)
	for i := range sig {
		sig[i] = byte(i + 1)
	}

	k1, err := DeriveMessagingKey(sig)
	if err != nil {
		t.Fatalf("DeriveMessagingKey failed: %v", err)
	}
	k2, err := DeriveMessagingKey(sig)
	if err != nil {
		t.Fatalf("DeriveMessagingKey failed: %v", err)
	}

	if !bytes.Equal(crypto.FromECDSA(k1), crypto.FromECDSA(k2)) {
		t.Fatal("derivation not deterministic")
	}
	if !bytes.Equal(crypto.FromECDSA(k1), sig[:32]) {
		t.Fatal("private key must be exactly the first 32 signature bytes")
	}
}

func TestDeriveMessagingKeyTooShort(t *testing.T) {
	if _, err := DeriveMessagingKey(make([]byte, 16)); err == nil {
		t.Fatal("expected short signature to be rejected")
	}
}

func TestPublicKeyHexForm(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pubHex := PublicKeyHex(priv)
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		t.Fatalf("public key not hex: %v", err)
	}
	if len(raw) != 64 {
		t.Fatalf("public key must be 64 bytes without the tag byte, got %d", len(raw))
	}
}

func TestAddressChecksummed(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := Address(priv)
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		t.Fatalf("unexpected address form %q", addr)
	}
}

func TestSignTextRecover(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("My public messaging key is: 0x0000000000000000000000000000000000000001")

	sig, err := SignText(priv, msg)
	if err != nil {
		t.Fatalf("SignText failed: %v", err)
	}
	got, err := RecoverTextAddress(msg, sig)
	if err != nil {
		t.Fatalf("RecoverTextAddress failed: %v", err)
	}
	if got != Address(priv) {
		t.Fatalf("recovered %s want %s", got, Address(priv))
	}

	if !VerifyText(msg, sig, Address(priv)) {
		t.Fatal("VerifyText rejected a valid signature")
	}
	if VerifyText([]byte("different message"), sig, Address(priv)) {
		t.Fatal("VerifyText accepted a signature over different bytes")
	}
}

func TestDecodeSignatureNormalizesV(t *testing.T) {
	sig := make([]byte, 65)
	sig[64] = 28
	decoded, err := DecodeSignature("0x" + hex.EncodeToString(sig))
	if err != nil {
		t.Fatalf("DecodeSignature failed: %v", err)
	}
	if decoded[64] != 1 {
		t.Fatalf("recovery id not normalized: %d", decoded[64])
	}

	// without 0x prefix
	decoded, err = DecodeSignature(hex.EncodeToString(sig))
	if err != nil {
		t.Fatalf("DecodeSignature without prefix failed: %v", err)
	}
	if decoded[64] != 1 {
		t.Fatalf("recovery id not normalized: %d", decoded[64])
	}
}
