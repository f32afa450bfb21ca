package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/timloh-professional/origin/internal/model"
	"github.com/timloh-professional/origin/internal/protocol/envelope"
	"github.com/timloh-professional/origin/internal/service/keyserver"
	"github.com/timloh-professional/origin/internal/utils/log"
)

type emission struct {
	msg *model.DecryptedMessage
	enc *model.EncryptedMessage
}

// runStream keeps the live subscription alive for one session. Close code
// 1000 ends it; anything else waits the reconnect delay, refetches the
// conversation list and bulk-reloads every room to close gaps accrued
// during the outage.
func (e *Engine) runStream(ctx context.Context, walletAddr string, session uint64) {
	reconnecting := false
	for {
		stream, err := e.client.Subscribe(ctx, walletAddr)
		if err != nil {
			log.Warn("stream subscribe failed", zap.String("wallet", walletAddr), zap.Error(err))
			if !e.reconnectWait(ctx, session) {
				return
			}
			reconnecting = true
			continue
		}

		e.mu.Lock()
		if e.session != session {
			e.mu.Unlock()
			stream.Close()
			return
		}
		e.stream = stream
		e.mu.Unlock()

		// close the gap accrued while disconnected; entries broadcast
		// meanwhile buffer on the fresh socket
		if reconnecting {
			e.resyncAll(ctx, walletAddr, session)
		}

		normal := e.readLoop(stream, session)

		e.mu.Lock()
		if e.stream == stream {
			e.stream = nil
		}
		e.mu.Unlock()
		stream.Close()

		if normal || ctx.Err() != nil {
			return
		}
		if !e.reconnectWait(ctx, session) {
			return
		}
		reconnecting = true
	}
}

// readLoop consumes the stream until it dies, reporting whether the close
// was a normal 1000.
func (e *Engine) readLoop(stream *keyserver.Stream, session uint64) bool {
	for {
		entry, err := stream.Read()
		if err != nil {
			var frameErr *keyserver.FrameError
			if errors.As(err, &frameErr) {
				log.Warn("dropping bad stream frame", zap.Error(err))
				continue
			}
			return keyserver.NormalClose(err)
		}
		e.handleLive(entry, session)
	}
}

func (e *Engine) reconnectWait(ctx context.Context, session uint64) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.cfg.ReconnectDelay):
	}
	e.mu.Lock()
	ok := e.session == session
	e.mu.Unlock()
	return ok
}

// resyncAll refetches the conversation list and bulk-loads each room.
func (e *Engine) resyncAll(ctx context.Context, walletAddr string, session uint64) {
	roomIDs, err := e.client.GetConversations(ctx, walletAddr)
	if err != nil {
		log.Warn("conversation list refetch failed", zap.Error(err))
		return
	}
	for _, id := range roomIDs {
		e.bulkLoad(ctx, id, session)
	}
}

// handleLive applies one streamed entry. Unknown room: bulk load (also
// the first-ever message from a new peer). index == last+1: process and
// advance. index beyond that: gap, discard and reload. index at or below
// last: duplicate, discard. Indices never move backwards.
func (e *Engine) handleLive(entry *model.LogEntry, session uint64) {
	roomID := entry.ConversationID
	senders := e.resolveSenders([]model.LogEntry{*entry})

	e.mu.Lock()
	if e.session != session {
		e.mu.Unlock()
		return
	}
	r, known := e.rooms[roomID]
	if !known {
		r = e.ensureRoomLocked(roomID)
		r.loading = true
		r.pending = append(r.pending, *entry)
		e.mu.Unlock()
		go e.bulkLoad(context.Background(), roomID, session)
		return
	}

	switch {
	case entry.ConversationIndex == r.lastIndex+1:
		em := e.processEntryLocked(r, entry, senders)
		r.advance(entry.ConversationIndex)
		out := e.collectLocked(r, em)
		ev := e.events
		e.mu.Unlock()
		e.emit(ev, out)
	case entry.ConversationIndex > r.lastIndex+1:
		want := r.lastIndex + 1
		reload := !r.loading
		if reload {
			r.loading = true
		} else {
			r.pending = append(r.pending, *entry)
		}
		e.mu.Unlock()
		if reload {
			log.Debug("log gap detected",
				zap.String("room", roomID),
				zap.Int("have", entry.ConversationIndex),
				zap.Int("want", want))
			go e.bulkLoad(context.Background(), roomID, session)
		}
	default:
		// duplicate of an index already ingested
		e.mu.Unlock()
	}
}

// bulkLoad fetches the full room log and rebuilds local state from it.
// Concurrent fetches across rooms are capped by the semaphore.
func (e *Engine) bulkLoad(ctx context.Context, roomID string, session uint64) {
	e.fetchSem <- struct{}{}
	defer func() { <-e.fetchSem }()

	entries, err := e.client.GetMessages(ctx, roomID)
	if err != nil {
		log.Warn("bulk load failed", zap.String("room", roomID), zap.Error(err))
		e.mu.Lock()
		if r, ok := e.rooms[roomID]; ok {
			r.loading = false
		}
		e.mu.Unlock()
		return
	}
	senders := e.resolveSenders(entries)

	e.mu.Lock()
	if e.session != session {
		e.mu.Unlock()
		return
	}
	r := e.ensureRoomLocked(roomID)
	r.loading = false
	r.messages = make(map[int]*model.DecryptedMessage)

	var out []emission
	for i := range entries {
		entry := &entries[i]
		em := e.processEntryLocked(r, entry, senders)
		r.advance(entry.ConversationIndex)
		out = append(out, e.collectLocked(r, em)...)
	}

	// replay live entries queued while the fetch was in flight
	pending := r.pending
	r.pending = nil
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ConversationIndex < pending[j].ConversationIndex
	})
	retry := false
	for i := range pending {
		entry := &pending[i]
		switch {
		case entry.ConversationIndex == r.lastIndex+1:
			em := e.processEntryLocked(r, entry, senders)
			r.advance(entry.ConversationIndex)
			out = append(out, e.collectLocked(r, em)...)
		case entry.ConversationIndex > r.lastIndex+1:
			retry = true
		}
	}
	if retry {
		r.loading = true
	}
	ev := e.events
	e.mu.Unlock()

	if retry {
		go e.bulkLoad(context.Background(), roomID, session)
	}
	e.emit(ev, out)
}

// resolveSenders primes registry entries for every distinct sender before
// the lock is taken, so entry verification under the lock is pure crypto.
func (e *Engine) resolveSenders(entries []model.LogEntry) map[string]*model.RegistryEntry {
	senders := make(map[string]*model.RegistryEntry)
	for i := range entries {
		env, err := model.DecodeEnvelope(entries[i].Content)
		if err != nil || env.Address == "" || !model.ValidAddress(env.Address) {
			continue
		}
		addr := model.Checksum(env.Address)
		if _, ok := senders[addr]; ok {
			continue
		}
		entry, err := e.registry.Lookup(context.Background(), addr)
		if err != nil {
			continue
		}
		senders[addr] = entry
	}
	return senders
}

// processEntryLocked runs one log entry through the codec. keys
// envelopes feed the room keystore; msg envelopes decrypt into the room
// log or surface as still-encrypted. Unknown envelope types are ignored.
func (e *Engine) processEntryLocked(r *room, entry *model.LogEntry, senders map[string]*model.RegistryEntry) emission {
	env, err := model.DecodeEnvelope(entry.Content)
	if err != nil {
		log.Debug("undecodable log entry", zap.String("room", r.id), zap.Int("index", entry.ConversationIndex))
		return emission{}
	}
	if env.Address == "" || !model.ValidAddress(env.Address) {
		return emission{}
	}
	sender := model.Checksum(env.Address)

	if entry.Signature != "" {
		if se := senders[sender]; se != nil && !envelope.VerifyEntry(entry, se.MessagingAddress) {
			log.Warn("dropping entry with bad signature",
				zap.String("room", r.id),
				zap.Int("index", entry.ConversationIndex),
				zap.String("sender", sender))
			return emission{}
		}
	}

	switch env.Type {
	case model.EnvelopeKeys:
		if e.binding == nil {
			return emission{}
		}
		for _, k := range envelope.DecodeKeys(env, e.wallet, e.binding.MessagingPrivateKey) {
			r.addKey(k)
		}
		return emission{}

	case model.EnvelopeMsg:
		msg, err := envelope.DecodeMsg(env, r.keys)
		switch {
		case err == nil:
			dm := &model.DecryptedMessage{
				Msg:           msg,
				RoomID:        r.id,
				Index:         entry.ConversationIndex,
				SenderAddress: sender,
				Hash:          model.MessageHash(r.id, entry.ConversationIndex),
			}
			r.messages[entry.ConversationIndex] = dm
			return emission{msg: dm}
		case errors.Is(err, model.ErrInvalidMessage):
			// decrypted but malformed: dropped, distinct from still-encrypted
			log.Debug("dropping schema-invalid message",
				zap.String("room", r.id), zap.Int("index", entry.ConversationIndex))
			return emission{}
		default:
			return emission{enc: &model.EncryptedMessage{
				RoomID:        r.id,
				Index:         entry.ConversationIndex,
				SenderAddress: sender,
				IV:            env.IV,
				Ciphertext:    env.Ciphertext,
			}}
		}
	}
	return emission{}
}

// collectLocked filters an emission through the room's dedup sets.
func (e *Engine) collectLocked(r *room, em emission) []emission {
	var out []emission
	if em.msg != nil {
		if _, seen := r.emittedMsg[em.msg.Hash]; !seen {
			r.emittedMsg[em.msg.Hash] = struct{}{}
			out = append(out, emission{msg: em.msg})
		}
	}
	if em.enc != nil {
		hash := model.MessageHash(r.id, em.enc.Index)
		if _, seen := r.emittedEnc[hash]; !seen {
			r.emittedEnc[hash] = struct{}{}
			out = append(out, emission{enc: em.enc})
		}
	}
	return out
}

func (e *Engine) emit(ev Events, out []emission) {
	for _, em := range out {
		if em.msg != nil && ev.Message != nil {
			ev.Message(*em.msg)
		}
		if em.enc != nil && ev.Encrypted != nil {
			ev.Encrypted(*em.enc)
		}
	}
}
