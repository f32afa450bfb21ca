package enrollment

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/timloh-professional/origin/internal/cryptographic/keys"
	"github.com/timloh-professional/origin/internal/wallet"
)

func TestPhraseConstants(t *testing.T) {
	if Phrase != "I am ready to start messaging on Origin." {
		t.Fatalf("enrollment phrase drifted: %q", Phrase)
	}
	if PublicationPrefix != "My public messaging key is: " {
		t.Fatalf("publication prefix drifted: %q", PublicationPrefix)
	}
}

func TestDeriveBindingFromWalletSignature(t *testing.T) {
	signer, err := wallet.NewLocalSigner(wallet.SignModePersonal)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	sig, err := signer.Sign(context.Background(), []byte(Phrase), signer.Address())
	if err != nil {
		t.Fatalf("sign enrollment phrase: %v", err)
	}

	b, err := DeriveBinding(signer.Address(), sig)
	if err != nil {
		t.Fatalf("DeriveBinding failed: %v", err)
	}

	rawSig, err := keys.DecodeSignature(sig)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if hex.EncodeToString(b.MessagingPrivateKey) != hex.EncodeToString(rawSig[:32]) {
		t.Fatal("messaging private key must be the first 32 signature bytes")
	}

	priv, err := keys.DeriveMessagingKey(b.MessagingPrivateKey)
	if err != nil {
		t.Fatalf("re-derive: %v", err)
	}
	if keys.Address(priv) != b.MessagingAddress {
		t.Fatal("messaging address does not match the derived key")
	}
	if b.EnrollmentPhrase != Phrase {
		t.Fatalf("binding carries wrong phrase %q", b.EnrollmentPhrase)
	}

	// same wallet signature, same identity: the ceremony is idempotent
	// across sessions
	b2, err := DeriveBinding(signer.Address(), sig)
	if err != nil {
		t.Fatalf("DeriveBinding (second) failed: %v", err)
	}
	if b2.MessagingAddress != b.MessagingAddress {
		t.Fatal("derivation not deterministic")
	}
}

func TestDeriveBindingRejectsBadAddress(t *testing.T) {
	if _, err := DeriveBinding("not-an-address", "0x00"); err == nil {
		t.Fatal("expected invalid address to be rejected")
	}
}

func TestComplete(t *testing.T) {
	signer, err := wallet.NewLocalSigner(wallet.SignModePersonal)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	sig, err := signer.Sign(context.Background(), []byte(Phrase), signer.Address())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, err := DeriveBinding(signer.Address(), sig)
	if err != nil {
		t.Fatalf("DeriveBinding failed: %v", err)
	}

	pubMsg := PublicationMessage(b.MessagingAddress)
	pubSig, err := signer.Sign(context.Background(), []byte(pubMsg), signer.Address())
	if err != nil {
		t.Fatalf("sign publication: %v", err)
	}
	if err := Complete(b, pubSig); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if b.PublicationMessage != PublicationPrefix+b.MessagingAddress {
		t.Fatalf("publication message %q", b.PublicationMessage)
	}
	if !keys.VerifyText([]byte(b.PublicationMessage), b.PublicationSignature, signer.Address()) {
		t.Fatal("publication signature does not verify against the wallet")
	}
}
