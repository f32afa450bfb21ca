package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/timloh-professional/origin/internal/model"
	"github.com/timloh-professional/origin/internal/utils/log"
)

type (
	// AccountStore persists registry entries per wallet address.
	AccountStore interface {
		Get(ctx context.Context, wallet string) (*model.RegistryEntry, error)
		Put(ctx context.Context, entry *model.RegistryEntry) error
	}

	// LogStore persists the per-room append-only logs. Append must refuse
	// any index other than the current log length with
	// model.ErrIndexConflict.
	LogStore interface {
		Append(ctx context.Context, roomID string, index int, entry *model.PostedEntry) (*model.LogEntry, error)
		List(ctx context.Context, roomID string) ([]model.LogEntry, error)
		Rooms(ctx context.Context, wallet string) ([]string, error)
	}

	// KeyServer implements the key server HTTP and stream contract. It
	// sees only ciphertext and room membership metadata. Entries for
	// wallets with no open stream queue in the cache and are forwarded
	// when the wallet next subscribes.
	KeyServer struct {
		accounts AccountStore
		logs     LogStore
		cache    EntryCache

		mu  sync.Mutex
		hub map[string][]*websocket.Conn
	}
)

func New(accounts AccountStore, logs LogStore, cache EntryCache) *KeyServer {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &KeyServer{
		accounts: accounts,
		logs:     logs,
		cache:    cache,
		hub:      make(map[string][]*websocket.Conn),
	}
}

// Router builds the REST + stream routes.
func (s *KeyServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/accounts/{address}", s.handleGetAccount()).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}", s.handlePostAccount()).Methods(http.MethodPost)
	r.HandleFunc("/messages/{roomId}", s.handleGetMessages()).Methods(http.MethodGet)
	r.HandleFunc("/messages/{roomId}/{index}", s.handlePostMessage()).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{address}", s.handleGetConversations()).Methods(http.MethodGet)
	r.HandleFunc("/message-events/{address}", s.handleEvents()).Methods(http.MethodGet)
	return r
}

func (s *KeyServer) handleGetAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := mux.Vars(r)["address"]
		if !model.ValidAddress(address) {
			http.Error(w, "invalid address", http.StatusBadRequest)
			return
		}
		entry, err := s.accounts.Get(r.Context(), model.Checksum(address))
		if err != nil {
			log.Error("account lookup failed", zap.Error(err))
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if entry == nil {
			http.Error(w, "unknown account", http.StatusNotFound)
			return
		}
		writeJSON(w, entry)
	}
}

func (s *KeyServer) handlePostAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := mux.Vars(r)["address"]
		if !model.ValidAddress(address) {
			http.Error(w, "invalid address", http.StatusBadRequest)
			return
		}

		var pub model.RegistryPublication
		if err := json.NewDecoder(r.Body).Decode(&pub); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if pub.Data.Address == "" || pub.Data.PubKey == "" || pub.Signature == "" {
			http.Error(w, "incomplete publication", http.StatusBadRequest)
			return
		}

		entry := &model.RegistryEntry{
			WalletAddress:             model.Checksum(address),
			MessagingAddress:          pub.Data.Address,
			MessagingPublicKey:        pub.Data.PubKey,
			PublicationMessage:        pub.Data.Msg,
			PublicationSignature:      pub.Signature,
			EnrollmentPhrase:          pub.Data.Ph,
			EnrollmentPhraseSignature: pub.Data.Phs,
		}
		if err := s.accounts.Put(r.Context(), entry); err != nil {
			log.Error("account publish failed", zap.Error(err))
			http.Error(w, "publish failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *KeyServer) handleGetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["roomId"]
		entries, err := s.logs.List(r.Context(), roomID)
		if err != nil {
			log.Error("log list failed", zap.String("room", roomID), zap.Error(err))
			http.Error(w, "list failed", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []model.LogEntry{}
		}
		writeJSON(w, entries)
	}
}

func (s *KeyServer) handlePostMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		roomID := vars["roomId"]
		index, err := strconv.Atoi(vars["index"])
		if err != nil || index < 0 {
			http.Error(w, "bad index", http.StatusBadRequest)
			return
		}

		var posted model.PostedEntry
		if err := json.NewDecoder(r.Body).Decode(&posted); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}

		entry, err := s.logs.Append(r.Context(), roomID, index, &posted)
		if err == model.ErrIndexConflict {
			http.Error(w, "index conflict", http.StatusConflict)
			return
		}
		if err != nil {
			log.Error("append failed", zap.String("room", roomID), zap.Error(err))
			http.Error(w, "append failed", http.StatusInternalServerError)
			return
		}

		s.broadcast(roomID, entry)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *KeyServer) handleGetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := mux.Vars(r)["address"]
		if !model.ValidAddress(address) {
			http.Error(w, "invalid address", http.StatusBadRequest)
			return
		}
		rooms, err := s.logs.Rooms(r.Context(), model.Checksum(address))
		if err != nil {
			log.Error("room list failed", zap.Error(err))
			http.Error(w, "list failed", http.StatusInternalServerError)
			return
		}
		if rooms == nil {
			rooms = []string{}
		}
		writeJSON(w, rooms)
	}
}

func (s *KeyServer) handleEvents() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return func(w http.ResponseWriter, r *http.Request) {
		address := mux.Vars(r)["address"]
		if !model.ValidAddress(address) {
			http.Error(w, "invalid address", http.StatusBadRequest)
			return
		}
		wallet := model.Checksum(address)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "failed to upgrade", http.StatusInternalServerError)
			return
		}

		// replay and register under the hub lock so a concurrent
		// broadcast can neither interleave writes nor slip an entry
		// between the drain and the registration
		s.mu.Lock()
		if err := s.forwardPending(wallet, conn); err != nil {
			log.Error("forwarding pending entries failed", zap.String("wallet", wallet), zap.Error(err))
		}
		s.hub[wallet] = append(s.hub[wallet], conn)
		s.mu.Unlock()

		go s.drain(wallet, conn)
	}
}

// forwardPending replays entries cached while the wallet had no stream.
// Callers hold the hub lock.
func (s *KeyServer) forwardPending(wallet string, conn *websocket.Conn) error {
	entries, err := s.cache.Drain(context.Background(), wallet)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := conn.WriteJSON(entry); err != nil {
			return err
		}
	}
	return nil
}

// drain keeps the subscriber registered until its socket dies.
func (s *KeyServer) drain(wallet string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.mu.Lock()
	conns := s.hub[wallet]
	for i, c := range conns {
		if c == conn {
			s.hub[wallet] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	conn.Close()
}

// broadcast forwards a fresh entry to every participant's live streams;
// participants with none open get it queued for their next subscription.
func (s *KeyServer) broadcast(roomID string, entry *model.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, participant := range model.RoomParticipants(roomID) {
		if !model.ValidAddress(participant) {
			continue
		}
		wallet := model.Checksum(participant)
		conns := s.hub[wallet]
		if len(conns) == 0 {
			if err := s.cache.Push(context.Background(), wallet, entry); err != nil {
				log.Error("caching entry for offline wallet failed", zap.String("wallet", wallet), zap.Error(err))
			}
			continue
		}
		for _, conn := range conns {
			if err := conn.WriteJSON(entry); err != nil {
				log.Debug("stream write failed", zap.Error(err))
			}
		}
	}
}

// CloseStreams tears down every live stream with the given close code;
// tests use it to exercise the reconnect policy. 1006 is never written to
// the wire: the socket just dies, which is what an abnormal closure is.
func (s *KeyServer) CloseStreams(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for wallet, conns := range s.hub {
		for _, conn := range conns {
			if code != websocket.CloseAbnormalClosure {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
			}
			conn.Close()
		}
		delete(s.hub, wallet)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("response encode failed", zap.Error(err))
	}
}
