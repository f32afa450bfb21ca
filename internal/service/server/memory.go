package server

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/timloh-professional/origin/internal/model"
)

type (
	// MemoryAccounts is the in-process AccountStore; the default for
	// development and the integration tests.
	MemoryAccounts struct {
		mu      sync.Mutex
		entries map[string]*model.RegistryEntry
	}

	// MemoryLogs is the in-process LogStore.
	MemoryLogs struct {
		mu   sync.Mutex
		logs map[string][]model.LogEntry
	}
)

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{entries: make(map[string]*model.RegistryEntry)}
}

func (s *MemoryAccounts) Get(_ context.Context, wallet string) (*model.RegistryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[wallet]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (s *MemoryAccounts) Put(_ context.Context, entry *model.RegistryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries[entry.WalletAddress] = &cp
	return nil
}

func NewMemoryLogs() *MemoryLogs {
	return &MemoryLogs{logs: make(map[string][]model.LogEntry)}
}

func (s *MemoryLogs) Append(_ context.Context, roomID string, index int, posted *model.PostedEntry) (*model.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[roomID]
	if index != len(entries) {
		return nil, model.ErrIndexConflict
	}
	entry := model.LogEntry{
		ConversationID:    roomID,
		ConversationIndex: index,
		Content:           append([]byte{}, posted.Content...),
		Signature:         posted.Signature,
	}
	s.logs[roomID] = append(entries, entry)
	return &entry, nil
}

func (s *MemoryLogs) List(_ context.Context, roomID string) ([]model.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LogEntry{}, s.logs[roomID]...), nil
}

func (s *MemoryLogs) Rooms(_ context.Context, wallet string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rooms []string
	for id := range s.logs {
		for _, p := range strings.Split(id, "-") {
			if model.ValidAddress(p) && model.Checksum(p) == wallet {
				rooms = append(rooms, id)
				break
			}
		}
	}
	sort.Strings(rooms)
	return rooms, nil
}
