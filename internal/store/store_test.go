package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("Get: %q %v %v", v, ok, err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.db")
	s := NewFile(path, []byte("passphrase"))

	if err := s.Set(ctx, MessagingKeyKey("0xabc"), "deadbeef"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "other", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// reopen with the same passphrase
	s2 := NewFile(path, []byte("passphrase"))
	v, ok, err := s2.Get(ctx, MessagingKeyKey("0xabc"))
	if err != nil || !ok || v != "deadbeef" {
		t.Fatalf("Get after reopen: %q %v %v", v, ok, err)
	}

	// wrong passphrase must not open the store
	s3 := NewFile(path, []byte("wrong"))
	if _, _, err := s3.Get(ctx, "other"); err == nil {
		t.Fatal("expected unseal failure with wrong passphrase")
	}
}

func TestFileStoreTamperedSalt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.db")
	s := NewFile(path, []byte("passphrase"))
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	raw[0] ^= 0xff
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, _, err := s.Get(ctx, "k"); err == nil {
		t.Fatal("expected unseal failure after salt tamper")
	}
}

func TestChainPick(t *testing.T) {
	ctx := context.Background()
	first, second := NewMemory(), NewMemory()
	chain := Chain{first, second}

	// nothing holds the key: default to the first store
	kv, err := chain.Pick(ctx, "0xA")
	if err != nil || kv != KV(first) {
		t.Fatalf("Pick default: %v %v", kv, err)
	}

	// the store already holding the wallet's messaging key wins
	if err := second.Set(ctx, MessagingKeyKey("0xA"), "beef"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	kv, err = chain.Pick(ctx, "0xA")
	if err != nil || kv != KV(second) {
		t.Fatalf("Pick existing: %v %v", kv, err)
	}
}

func TestStorageKeys(t *testing.T) {
	w := "0xAbC"
	cases := map[string]string{
		MessagingKeyKey(w):      "MK_:0xAbC",
		EnrollmentPhraseKey(w):  "MP_:0xAbC",
		PublicationMsgKey(w):    "KEY_:0xAbC",
		PublicationSigKey(w):    "PMS_:0xAbC",
		SubscriptionStartKey(w): "message_subscription_start:0xAbC",
		MessageStatusesKey(w):   "message_statuses:0xAbC",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("storage key %q want %q", got, want)
		}
	}
}
