package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timloh-professional/origin/internal/cryptographic/keys"
	"github.com/timloh-professional/origin/internal/model"
	"github.com/timloh-professional/origin/internal/protocol/enrollment"
	"github.com/timloh-professional/origin/internal/service/keyserver"
	"github.com/timloh-professional/origin/internal/service/registry"
	"github.com/timloh-professional/origin/internal/store"
	"github.com/timloh-professional/origin/internal/utils/log"
	"github.com/timloh-professional/origin/internal/wallet"
)

// State of the engine with respect to identity.
type State int

const (
	StateUnbound State = iota
	StateBound
	StateEnrolled
	StatePublished
	StateReady
)

func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateEnrolled:
		return "enrolled"
	case StatePublished:
		return "published"
	case StateReady:
		return "ready"
	default:
		return "unbound"
	}
}

type (
	// Events is the observer callback set. Callbacks run synchronously on
	// the emitting goroutine, outside the engine lock; nil callbacks are
	// skipped.
	Events struct {
		New         func(wallet string)
		Initialized func(wallet string)
		Ready       func(wallet string)
		SignedSig   func(wallet string)
		Message     func(model.DecryptedMessage)
		Encrypted   func(model.EncryptedMessage)
	}

	// Config wires the engine's collaborators.
	Config struct {
		ServerURL string
		Signer    wallet.Signer

		// Secrets is the priority chain for messaging-key material; the
		// first store is the write fallback. Defaults to one in-memory
		// store.
		Secrets store.Chain
		// Durable holds the read/unread map and first-use timestamp.
		Durable store.KV

		HTTPClient     *http.Client
		ReconnectDelay time.Duration
		BulkFetchLimit int
	}

	// Engine is the conversation engine. All state behind one mutex;
	// network and signing suspend outside it and re-validate the session
	// before applying results.
	Engine struct {
		cfg      Config
		client   *keyserver.Client
		registry *registry.Registry
		events   Events

		mu        sync.Mutex
		session   uint64
		wallet    string
		binding   *model.AccountBinding
		published bool
		ready     bool
		rooms     map[string]*room
		sendBusy  bool
		statuses  map[string]string

		stream       *keyserver.Stream
		streamCancel context.CancelFunc

		fetchSem chan struct{}
	}
)

const (
	defaultReconnectDelay = 30 * time.Second
	defaultBulkFetchLimit = 25
)

func New(cfg Config) (*Engine, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("%w: wallet signer missing", model.ErrConfiguration)
	}
	client, err := keyserver.NewClient(cfg.ServerURL, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}
	if len(cfg.Secrets) == 0 {
		cfg.Secrets = store.Chain{store.NewMemory()}
	}
	if cfg.Durable == nil {
		cfg.Durable = store.NewMemory()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.BulkFetchLimit <= 0 {
		cfg.BulkFetchLimit = defaultBulkFetchLimit
	}

	return &Engine{
		cfg:      cfg,
		client:   client,
		registry: registry.New(client),
		rooms:    make(map[string]*room),
		fetchSem: make(chan struct{}, cfg.BulkFetchLimit),
	}, nil
}

// SetEvents installs the observer callbacks. Call before lifecycle
// transitions; later events use the new set.
func (e *Engine) SetEvents(ev Events) {
	e.mu.Lock()
	e.events = ev
	e.mu.Unlock()
}

// State reports the identity state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.wallet == "":
		return StateUnbound
	case e.binding == nil:
		return StateBound
	case !e.published:
		return StateEnrolled
	case !e.ready:
		return StatePublished
	default:
		return StateReady
	}
}

// Wallet returns the bound checksummed wallet address, "" when unbound.
func (e *Engine) Wallet() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallet
}

// Binding returns the current messaging identity, nil before Enable.
func (e *Engine) Binding() *model.AccountBinding {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.binding
}

// SetAccount binds a wallet address. It is the cancellation point: the
// live stream closes, room state clears, and results of in-flight
// operations launched under the previous account are discarded.
func (e *Engine) SetAccount(ctx context.Context, walletAddress string) error {
	if !model.ValidAddress(walletAddress) {
		return model.ErrInvalidAddress
	}
	checksummed := model.Checksum(walletAddress)

	e.mu.Lock()
	e.session++
	session := e.session
	if e.streamCancel != nil {
		e.streamCancel()
		e.streamCancel = nil
	}
	if e.stream != nil {
		e.stream.Close()
		e.stream = nil
	}
	e.wallet = checksummed
	e.binding = nil
	e.published = false
	e.ready = false
	e.sendBusy = false
	e.rooms = make(map[string]*room)
	e.statuses = nil
	e.mu.Unlock()

	binding, err := e.loadCachedBinding(ctx, checksummed)
	if err != nil {
		log.Warn("loading cached enrollment failed", zap.String("wallet", checksummed), zap.Error(err))
	}

	e.mu.Lock()
	if e.session == session && binding != nil {
		e.binding = binding
	}
	ev := e.events
	e.mu.Unlock()

	if ev.New != nil {
		ev.New(checksummed)
	}
	return nil
}

// loadCachedBinding reconstructs the messaging identity from whichever
// secret store holds it.
func (e *Engine) loadCachedBinding(ctx context.Context, walletAddr string) (*model.AccountBinding, error) {
	kv, err := e.cfg.Secrets.Pick(ctx, walletAddr)
	if err != nil || kv == nil {
		return nil, err
	}
	privHex, ok, err := kv.Get(ctx, store.MessagingKeyKey(walletAddr))
	if err != nil || !ok {
		return nil, err
	}
	priv, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("corrupt cached messaging key: %w", err)
	}
	key, err := keys.DeriveMessagingKey(priv)
	if err != nil {
		return nil, err
	}

	phrase := enrollment.Phrase
	if p, ok, err := kv.Get(ctx, store.EnrollmentPhraseKey(walletAddr)); err == nil && ok {
		phrase = p
	}

	binding := &model.AccountBinding{
		WalletAddress:       walletAddr,
		MessagingPrivateKey: priv,
		MessagingPublicKey:  keys.PublicKeyHex(key),
		MessagingAddress:    keys.Address(key),
		EnrollmentPhrase:    phrase,
	}
	if msg, ok, err := kv.Get(ctx, store.PublicationMsgKey(walletAddr)); err == nil && ok {
		binding.PublicationMessage = msg
	}
	if sig, ok, err := kv.Get(ctx, store.PublicationSigKey(walletAddr)); err == nil && ok {
		binding.PublicationSignature = sig
	}
	return binding, nil
}

// Enable derives the messaging keypair by prompting the wallet for the
// enrollment signature. Idempotent once enrolled.
func (e *Engine) Enable(ctx context.Context) error {
	e.mu.Lock()
	if e.wallet == "" {
		e.mu.Unlock()
		return model.ErrInvalidAddress
	}
	if e.binding != nil {
		e.mu.Unlock()
		return nil
	}
	walletAddr, session := e.wallet, e.session
	e.mu.Unlock()

	sig, err := e.cfg.Signer.Sign(ctx, []byte(enrollment.Phrase), walletAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrUserDenied, err)
	}
	binding, err := enrollment.DeriveBinding(walletAddr, sig)
	if err != nil {
		return err
	}

	if err := e.persistEnrollment(ctx, binding); err != nil {
		log.Warn("persisting enrollment failed", zap.Error(err))
	}

	e.mu.Lock()
	stale := e.session != session
	if !stale {
		e.binding = binding
	}
	ev := e.events
	e.mu.Unlock()
	if stale {
		return nil
	}

	if ev.SignedSig != nil {
		ev.SignedSig(walletAddr)
	}
	return nil
}

func (e *Engine) persistEnrollment(ctx context.Context, b *model.AccountBinding) error {
	kv, err := e.cfg.Secrets.Pick(ctx, b.WalletAddress)
	if err != nil || kv == nil {
		return err
	}
	if err := kv.Set(ctx, store.MessagingKeyKey(b.WalletAddress), hex.EncodeToString(b.MessagingPrivateKey)); err != nil {
		return err
	}
	if err := kv.Set(ctx, store.EnrollmentPhraseKey(b.WalletAddress), b.EnrollmentPhrase); err != nil {
		return err
	}
	if b.PublicationMessage != "" {
		if err := kv.Set(ctx, store.PublicationMsgKey(b.WalletAddress), b.PublicationMessage); err != nil {
			return err
		}
	}
	if b.PublicationSignature != "" {
		if err := kv.Set(ctx, store.PublicationSigKey(b.WalletAddress), b.PublicationSignature); err != nil {
			return err
		}
	}
	return nil
}

// Publish announces the messaging address: prompts for the publication
// signature unless one is cached, then POSTs the registry entry. On
// registry failure the engine stays Enrolled; messages can still be read
// but peers cannot discover this user.
func (e *Engine) Publish(ctx context.Context) error {
	e.mu.Lock()
	if e.binding == nil {
		e.mu.Unlock()
		return model.ErrNotEnrolled
	}
	binding, walletAddr, session := e.binding, e.wallet, e.session
	e.mu.Unlock()

	if binding.PublicationSignature == "" {
		msg := enrollment.PublicationMessage(binding.MessagingAddress)
		sig, err := e.cfg.Signer.Sign(ctx, []byte(msg), walletAddr)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrUserDenied, err)
		}
		if err := enrollment.Complete(binding, sig); err != nil {
			return err
		}
		if err := e.persistEnrollment(ctx, binding); err != nil {
			log.Warn("persisting publication failed", zap.Error(err))
		}
	} else if binding.PublicationMessage == "" {
		binding.PublicationMessage = enrollment.PublicationMessage(binding.MessagingAddress)
	}

	if err := e.registry.Publish(ctx, binding); err != nil {
		log.Warn("registry publish failed", zap.String("wallet", walletAddr), zap.Error(err))
		return err
	}

	e.mu.Lock()
	if e.session == session {
		e.published = true
	}
	e.mu.Unlock()
	return nil
}

// InitMessaging reconciles local and server enrollment: when the server
// already holds an entry matching the locally-derived messaging address,
// its publication values are adopted; otherwise the engine re-publishes.
func (e *Engine) InitMessaging(ctx context.Context) error {
	e.mu.Lock()
	if e.binding == nil {
		e.mu.Unlock()
		return model.ErrNotEnrolled
	}
	binding, walletAddr, session := e.binding, e.wallet, e.session
	e.mu.Unlock()

	entry, err := e.client.GetAccount(ctx, walletAddr)
	if err != nil {
		log.Warn("registry reconcile lookup failed", zap.Error(err))
	}

	if entry != nil && entry.MessagingAddress == binding.MessagingAddress {
		binding.PublicationMessage = entry.PublicationMessage
		binding.PublicationSignature = entry.PublicationSignature
		if err := e.persistEnrollment(ctx, binding); err != nil {
			log.Warn("persisting adopted publication failed", zap.Error(err))
		}
		e.mu.Lock()
		if e.session == session {
			e.published = true
		}
		ev := e.events
		e.mu.Unlock()
		if ev.Initialized != nil {
			ev.Initialized(walletAddr)
		}
		return nil
	}

	if err := e.Publish(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	ev := e.events
	e.mu.Unlock()
	if ev.Initialized != nil {
		ev.Initialized(walletAddr)
	}
	return nil
}

// ImportEnrollment injects a pre-computed ceremony (signatures gathered
// externally). It takes the same path as Enable + Publish.
func (e *Engine) ImportEnrollment(ctx context.Context, enrollmentSigHex, publicationSigHex string) error {
	e.mu.Lock()
	if e.wallet == "" {
		e.mu.Unlock()
		return model.ErrInvalidAddress
	}
	walletAddr, session := e.wallet, e.session
	e.mu.Unlock()

	binding, err := enrollment.DeriveBinding(walletAddr, enrollmentSigHex)
	if err != nil {
		return err
	}
	if publicationSigHex != "" {
		if err := enrollment.Complete(binding, publicationSigHex); err != nil {
			return err
		}
	}
	if err := e.persistEnrollment(ctx, binding); err != nil {
		log.Warn("persisting imported enrollment failed", zap.Error(err))
	}

	e.mu.Lock()
	stale := e.session != session
	if !stale {
		e.binding = binding
	}
	ev := e.events
	e.mu.Unlock()
	if stale {
		return nil
	}
	if ev.SignedSig != nil {
		ev.SignedSig(walletAddr)
	}
	return e.Publish(ctx)
}

// LoadRooms populates room state from the server and subscribes to live
// updates, driving Published to Ready.
func (e *Engine) LoadRooms(ctx context.Context) error {
	e.mu.Lock()
	if e.binding == nil || !e.published {
		e.mu.Unlock()
		return model.ErrNotEnrolled
	}
	if e.ready {
		e.mu.Unlock()
		return nil
	}
	walletAddr, session := e.wallet, e.session
	e.mu.Unlock()

	e.recordSubscriptionStart(ctx, walletAddr)

	roomIDs, err := e.client.GetConversations(ctx, walletAddr)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, id := range roomIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			e.bulkLoad(ctx, id, session)
		}(id)
	}
	wg.Wait()

	streamCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	if e.session != session {
		e.mu.Unlock()
		cancel()
		return nil
	}
	e.streamCancel = cancel
	e.ready = true
	ev := e.events
	e.mu.Unlock()

	go e.runStream(streamCtx, walletAddr, session)

	if ev.Ready != nil {
		ev.Ready(walletAddr)
	}
	return nil
}

func (e *Engine) recordSubscriptionStart(ctx context.Context, walletAddr string) {
	key := store.SubscriptionStartKey(walletAddr)
	if _, ok, err := e.cfg.Durable.Get(ctx, key); err != nil || ok {
		return
	}
	if err := e.cfg.Durable.Set(ctx, key, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		log.Warn("recording subscription start failed", zap.Error(err))
	}
}
