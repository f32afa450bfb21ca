package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/timloh-professional/origin/internal/cryptographic/keys"
	"github.com/timloh-professional/origin/internal/model"
	"github.com/timloh-professional/origin/internal/protocol/envelope"
)

// StartConversation establishes a room with the remote wallet: if the
// room has no key yet, a keys envelope carrying a fresh symmetric key
// wrapped for every participant is posted at the current log position.
// A remote with no registry entry yields ErrPeerNotEnrolled without
// posting; no events fire.
func (e *Engine) StartConversation(ctx context.Context, remoteWallet string) (string, error) {
	if !model.ValidAddress(remoteWallet) {
		return "", model.ErrInvalidAddress
	}
	e.mu.Lock()
	if e.binding == nil {
		e.mu.Unlock()
		return "", model.ErrNotEnrolled
	}
	self := e.wallet
	e.mu.Unlock()

	roomID := model.RoomID(self, remoteWallet)
	if err := e.ensureConversation(ctx, roomID); err != nil {
		return "", err
	}
	return roomID, nil
}

// ensureConversation makes sure the room identified by roomID holds at
// least one symmetric key, seeding it with a keys envelope if needed.
func (e *Engine) ensureConversation(ctx context.Context, roomID string) error {
	e.mu.Lock()
	binding, session := e.binding, e.session
	self := e.wallet
	r := e.ensureRoomLocked(roomID)
	index := r.messageCount
	seeded := len(r.keys) > 0
	e.mu.Unlock()
	if seeded {
		return nil
	}

	recipients := []envelope.Recipient{{
		WalletAddress:      self,
		MessagingAddress:   binding.MessagingAddress,
		MessagingPublicKey: binding.MessagingPublicKey,
	}}
	for _, p := range model.RoomParticipants(roomID) {
		if p == self {
			continue
		}
		entry, err := e.registry.Lookup(ctx, p)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("%w: %s", model.ErrPeerNotEnrolled, p)
		}
		recipients = append(recipients, envelope.Recipient{
			WalletAddress:      entry.WalletAddress,
			MessagingAddress:   entry.MessagingAddress,
			MessagingPublicKey: entry.MessagingPublicKey,
		})
	}

	key, err := envelope.NewRoomKey()
	if err != nil {
		return err
	}
	env, err := envelope.EncodeKeys(self, key, recipients)
	if err != nil {
		return err
	}
	if err := e.postEnvelope(ctx, roomID, index, env, binding); err != nil {
		return err
	}

	e.mu.Lock()
	if e.session == session {
		r := e.ensureRoomLocked(roomID)
		r.addKey(key)
		r.advance(index)
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) postEnvelope(ctx context.Context, roomID string, index int, env *model.Envelope, binding *model.AccountBinding) error {
	content, err := json.Marshal(env)
	if err != nil {
		return err
	}
	priv, err := keys.DeriveMessagingKey(binding.MessagingPrivateKey)
	if err != nil {
		return err
	}
	sig, err := envelope.SignEntry(priv, roomID, index, content)
	if err != nil {
		return err
	}
	return e.client.PostMessage(ctx, roomID, index, &model.PostedEntry{
		Content:   content,
		Signature: sig,
	})
}

// SendMessage encrypts and posts a message to the wallet or roomId in
// target. Only one send is in flight per engine; concurrent attempts get
// ErrSendBusy. A 409 surfaces as ErrIndexConflict and may be retried
// after the ingestor advances.
func (e *Engine) SendMessage(ctx context.Context, target string, msg *model.Message) (*model.DecryptedMessage, error) {
	roomID, err := e.resolveRoom(target)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.binding == nil {
		e.mu.Unlock()
		return nil, model.ErrNotEnrolled
	}
	if e.sendBusy {
		e.mu.Unlock()
		return nil, model.ErrSendBusy
	}
	e.sendBusy = true
	binding, session := e.binding, e.session
	self := e.wallet
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.sendBusy = false
		e.mu.Unlock()
	}()

	if err := e.ensureConversation(ctx, roomID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	r := e.ensureRoomLocked(roomID)
	key := r.primary()
	index := r.messageCount
	e.mu.Unlock()
	if key == nil {
		return nil, model.ErrNotDecryptable
	}

	env, err := envelope.EncodeMsg(self, key, msg)
	if err != nil {
		return nil, err
	}
	if err := e.postEnvelope(ctx, roomID, index, env, binding); err != nil {
		return nil, err
	}

	dm := &model.DecryptedMessage{
		Msg:           msg,
		RoomID:        roomID,
		Index:         index,
		SenderAddress: self,
		Hash:          model.MessageHash(roomID, index),
	}

	e.mu.Lock()
	var out []emission
	if e.session == session {
		r := e.ensureRoomLocked(roomID)
		r.messages[index] = dm
		r.advance(index)
		out = e.collectLocked(r, emission{msg: dm})
	}
	ev := e.events
	e.mu.Unlock()
	e.emit(ev, out)

	return dm, nil
}

// CreateOutOfBandEnvelope encrypts a message exactly like SendMessage but
// returns the envelope, extended with the recipient's address, instead of
// posting it.
func (e *Engine) CreateOutOfBandEnvelope(ctx context.Context, remoteWallet string, msg *model.Message) (*model.Envelope, error) {
	if !model.ValidAddress(remoteWallet) {
		return nil, model.ErrInvalidAddress
	}
	e.mu.Lock()
	if e.binding == nil {
		e.mu.Unlock()
		return nil, model.ErrNotEnrolled
	}
	self := e.wallet
	e.mu.Unlock()

	roomID := model.RoomID(self, remoteWallet)
	if err := e.ensureConversation(ctx, roomID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	key := e.ensureRoomLocked(roomID).primary()
	e.mu.Unlock()
	if key == nil {
		return nil, model.ErrNotDecryptable
	}

	env, err := envelope.EncodeMsg(self, key, msg)
	if err != nil {
		return nil, err
	}
	env.To = model.Checksum(remoteWallet)
	return env, nil
}

// DecryptOutOfBandEnvelope infers the remote participant (the non-self
// party among address and to), ensures the room exists, and decodes.
func (e *Engine) DecryptOutOfBandEnvelope(ctx context.Context, env *model.Envelope) (*model.Message, error) {
	e.mu.Lock()
	self := e.wallet
	e.mu.Unlock()
	if self == "" {
		return nil, model.ErrInvalidAddress
	}

	remote := model.Checksum(env.Address)
	if remote == self && env.To != "" {
		remote = model.Checksum(env.To)
	}
	if !model.ValidAddress(remote) {
		return nil, model.ErrInvalidAddress
	}

	roomID := model.RoomID(self, remote)
	e.mu.Lock()
	r := e.ensureRoomLocked(roomID)
	roomKeys := r.keys
	e.mu.Unlock()

	return envelope.DecodeMsg(env, roomKeys)
}

// GetMessages is a read-only view of the room's decrypted log, ascending
// by index.
func (e *Engine) GetMessages(target string) ([]model.DecryptedMessage, error) {
	roomID, err := e.resolveRoom(target)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return r.ordered(), nil
}

// GetMessageCount is one past the highest known log index for the room.
func (e *Engine) GetMessageCount(target string) (int, error) {
	roomID, err := e.resolveRoom(target)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[roomID]
	if !ok {
		return 0, nil
	}
	return r.messageCount, nil
}

// EnumerateConversations lists known roomIds, sorted.
func (e *Engine) EnumerateConversations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
