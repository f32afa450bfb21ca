package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/timloh-professional/origin/internal/model"
	"github.com/timloh-professional/origin/internal/service/keyserver"
)

const wallet = "0x0000000000000000000000000000000000000A01"

func TestLookupCachesPositiveResults(t *testing.T) {
	var gets atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		json.NewEncoder(w).Encode(model.RegistryEntry{
			WalletAddress:    model.Checksum(wallet),
			MessagingAddress: "0x0000000000000000000000000000000000000M01",
		})
	}))
	defer srv.Close()

	client, err := keyserver.NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	reg := New(client)

	for i := 0; i < 3; i++ {
		entry, err := reg.Lookup(context.Background(), wallet)
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		if entry == nil {
			t.Fatal("expected an entry")
		}
	}
	if gets.Load() != 1 {
		t.Fatalf("expected a single GET, saw %d", gets.Load())
	}
}

func TestLookupAbsentNotCached(t *testing.T) {
	var gets atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		http.Error(w, "unknown", http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := keyserver.NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	reg := New(client)

	for i := 0; i < 2; i++ {
		entry, err := reg.Lookup(context.Background(), wallet)
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		if entry != nil {
			t.Fatal("expected nil for an absent wallet")
		}
	}
	// no negative cache: every miss hits the server again
	if gets.Load() != 2 {
		t.Fatalf("expected 2 GETs, saw %d", gets.Load())
	}
}

func TestLookupRejectsMalformedAddress(t *testing.T) {
	client, err := keyserver.NewClient("http://localhost:1", nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	reg := New(client)
	if _, err := reg.Lookup(context.Background(), "bogus"); err != model.ErrInvalidAddress {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestLookupUnreachableResolvesNil(t *testing.T) {
	client, err := keyserver.NewClient("http://127.0.0.1:1", nil)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	reg := New(client)
	entry, err := reg.Lookup(context.Background(), wallet)
	if err != nil || entry != nil {
		t.Fatalf("unreachable registry should read as not enrolled, got %v %v", entry, err)
	}
}
