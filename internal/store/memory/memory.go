// Package memory is the in-process store backend, used by default and in
// tests. Semantics mirror the SQLite adapter, including audit retention.
package memory

import (
	"context"
	"sync"

	"kassa/internal/core"
	"kassa/internal/store"
)

type chatState struct {
	ledger           core.ChatLedger
	balanceMessageID int64
}

type Store struct {
	mu       sync.Mutex
	defaults core.ChatLedger
	chats    map[int64]*chatState
	entries  map[int64][]core.Entry // newest first
	nextID   int64
}

// New builds a store whose missing chats start from the given defaults.
func New(defaults core.ChatLedger) *Store {
	return &Store{
		defaults: defaults,
		chats:    make(map[int64]*chatState),
		entries:  make(map[int64][]core.Entry),
	}
}

func (s *Store) state(chatID int64) *chatState {
	st, ok := s.chats[chatID]
	if !ok {
		st = &chatState{ledger: s.defaults}
		s.chats[chatID] = st
	}
	return st
}

func (s *Store) Ledger(_ context.Context, chatID int64) (core.ChatLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(chatID).ledger, nil
}

func (s *Store) PutLedger(_ context.Context, chatID int64, l core.ChatLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(chatID).ledger = l
	return nil
}

func (s *Store) BalanceMessageID(_ context.Context, chatID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(chatID).balanceMessageID, nil
}

func (s *Store) SetBalanceMessageID(_ context.Context, chatID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(chatID).balanceMessageID = messageID
	return nil
}

// Append prepends the entry and evicts beyond the retention bound.
func (s *Store) Append(_ context.Context, chatID int64, e core.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	log := append([]core.Entry{e}, s.entries[chatID]...)
	if len(log) > store.RetainedEntries {
		log = log[:store.RetainedEntries]
	}
	s.entries[chatID] = log
	return s.nextID, nil
}

// CommitEntry writes the ledger and appends the entry under one lock, so a
// reader never sees one without the other.
func (s *Store) CommitEntry(_ context.Context, chatID int64, l core.ChatLedger, e core.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state(chatID).ledger = l

	s.nextID++
	log := append([]core.Entry{e}, s.entries[chatID]...)
	if len(log) > store.RetainedEntries {
		log = log[:store.RetainedEntries]
	}
	s.entries[chatID] = log
	return s.nextID, nil
}

func (s *Store) Recent(_ context.Context, chatID int64, n int) ([]core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.entries[chatID]
	if n > len(log) {
		n = len(log)
	}
	out := make([]core.Entry, n)
	copy(out, log[:n])
	return out, nil
}

var _ store.Repository = (*Store)(nil)
