package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/timloh-professional/origin/internal/model"
	"github.com/timloh-professional/origin/internal/service/keyserver"
	"github.com/timloh-professional/origin/internal/utils/log"
)

// Registry resolves wallet addresses to published messaging identities.
// Successful lookups are cached indefinitely in-process; there is no
// negative cache.
type Registry struct {
	client *keyserver.Client

	mu    sync.Mutex
	cache map[string]*model.RegistryEntry
}

func New(client *keyserver.Client) *Registry {
	return &Registry{
		client: client,
		cache:  make(map[string]*model.RegistryEntry),
	}
}

// Lookup returns the wallet's registry entry, or nil when the wallet is
// not enrolled. An unreachable registry also resolves to nil: the peer is
// simply undiscoverable right now.
func (r *Registry) Lookup(ctx context.Context, wallet string) (*model.RegistryEntry, error) {
	if !model.ValidAddress(wallet) {
		return nil, model.ErrInvalidAddress
	}
	wallet = model.Checksum(wallet)

	r.mu.Lock()
	entry, ok := r.cache[wallet]
	r.mu.Unlock()
	if ok {
		return entry, nil
	}

	entry, err := r.client.GetAccount(ctx, wallet)
	if err != nil {
		log.Warn("registry lookup failed", zap.String("wallet", wallet), zap.Error(err))
		return nil, nil
	}
	if entry == nil {
		return nil, nil
	}

	r.mu.Lock()
	r.cache[wallet] = entry
	r.mu.Unlock()
	return entry, nil
}

// Publish posts the entry and primes the cache on success. Failure is
// reported to the caller but tears down no local state.
func (r *Registry) Publish(ctx context.Context, binding *model.AccountBinding) error {
	if err := r.client.PostAccount(ctx, binding.WalletAddress, binding.Publication()); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[binding.WalletAddress] = binding.Entry()
	r.mu.Unlock()
	return nil
}
