package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/timloh-professional/origin/internal/model"
	"github.com/timloh-professional/origin/internal/store"
)

// Read/unread bookkeeping per message hash, persisted as a full-map
// serialization in the durable store. Single writer per wallet.

const (
	StatusRead   = "read"
	StatusUnread = "unread"
)

func (e *Engine) loadStatusesLocked(ctx context.Context, walletAddr string) error {
	if e.statuses != nil {
		return nil
	}
	e.statuses = make(map[string]string)
	raw, ok, err := e.cfg.Durable.Get(ctx, store.MessageStatusesKey(walletAddr))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &e.statuses); err != nil {
		return fmt.Errorf("corrupt status map: %w", err)
	}
	return nil
}

// MessageStatus reads a hash's status; unknown hashes are unread.
func (e *Engine) MessageStatus(ctx context.Context, hash string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wallet == "" {
		return "", model.ErrInvalidAddress
	}
	if err := e.loadStatusesLocked(ctx, e.wallet); err != nil {
		return "", err
	}
	if s, ok := e.statuses[hash]; ok {
		return s, nil
	}
	return StatusUnread, nil
}

// MarkRead records a message as read.
func (e *Engine) MarkRead(ctx context.Context, hash string) error {
	return e.setStatus(ctx, hash, StatusRead)
}

// MarkUnread records a message as unread.
func (e *Engine) MarkUnread(ctx context.Context, hash string) error {
	return e.setStatus(ctx, hash, StatusUnread)
}

func (e *Engine) setStatus(ctx context.Context, hash, status string) error {
	e.mu.Lock()
	if e.wallet == "" {
		e.mu.Unlock()
		return model.ErrInvalidAddress
	}
	walletAddr := e.wallet
	if err := e.loadStatusesLocked(ctx, walletAddr); err != nil {
		e.mu.Unlock()
		return err
	}
	e.statuses[hash] = status
	raw, err := json.Marshal(e.statuses)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return e.cfg.Durable.Set(ctx, store.MessageStatusesKey(walletAddr), string(raw))
}
