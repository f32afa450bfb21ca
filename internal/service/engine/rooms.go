package engine

import (
	"encoding/hex"
	"sort"

	"github.com/timloh-professional/origin/internal/model"
)

type (
	// room is this participant's view of one conversation: the ordered
	// symmetric key set, the decrypted log, and index bookkeeping.
	room struct {
		id string

		// keys is insertion-ordered and deduplicated. The first key
		// encrypts outgoing messages; all are tried on decrypt.
		keys   [][]byte
		keySet map[string]struct{}

		// messages is sparse-tolerant, keyed by server log index.
		messages     map[int]*model.DecryptedMessage
		messageCount int
		lastIndex    int

		// emission dedup by message hash; consumers are idempotent but the
		// engine avoids double emission across reloads.
		emittedMsg map[string]struct{}
		emittedEnc map[string]struct{}

		// loading collapses concurrent bulk fetches of the same room;
		// live entries seen meanwhile queue in pending and replay once
		// the fetch lands.
		loading bool
		pending []model.LogEntry
	}
)

func newRoom(id string) *room {
	return &room{
		id:         id,
		keySet:     make(map[string]struct{}),
		messages:   make(map[int]*model.DecryptedMessage),
		lastIndex:  -1,
		emittedMsg: make(map[string]struct{}),
		emittedEnc: make(map[string]struct{}),
	}
}

// addKey inserts a symmetric key once; re-announcements are no-ops.
func (r *room) addKey(k []byte) bool {
	id := hex.EncodeToString(k)
	if _, ok := r.keySet[id]; ok {
		return false
	}
	r.keySet[id] = struct{}{}
	r.keys = append(r.keys, append([]byte{}, k...))
	return true
}

// primary is the key for new outgoing messages: the first inserted.
func (r *room) primary() []byte {
	if len(r.keys) == 0 {
		return nil
	}
	return r.keys[0]
}

// ordered returns the decrypted log ascending by index.
func (r *room) ordered() []model.DecryptedMessage {
	indices := make([]int, 0, len(r.messages))
	for i := range r.messages {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	out := make([]model.DecryptedMessage, 0, len(indices))
	for _, i := range indices {
		out = append(out, *r.messages[i])
	}
	return out
}

// advance moves the index bookkeeping monotonically.
func (r *room) advance(index int) {
	if index > r.lastIndex {
		r.lastIndex = index
	}
	if index+1 > r.messageCount {
		r.messageCount = index + 1
	}
}

// resolveRoom maps a wallet-or-roomId argument to a canonical roomId.
// Any string containing "-" is assumed to be a roomId.
func (e *Engine) resolveRoom(target string) (string, error) {
	if model.IsRoomID(target) {
		participants := model.RoomParticipants(target)
		for _, p := range participants {
			if !model.ValidAddress(p) {
				return "", model.ErrInvalidAddress
			}
		}
		return model.RoomID(participants...), nil
	}
	if !model.ValidAddress(target) {
		return "", model.ErrInvalidAddress
	}
	e.mu.Lock()
	self := e.wallet
	e.mu.Unlock()
	return model.RoomID(self, target), nil
}

func (e *Engine) ensureRoomLocked(roomID string) *room {
	r, ok := e.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		e.rooms[roomID] = r
	}
	return r
}
