// Package memory is an in-process EntryWriter used when the worker runs
// without Google credentials and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	ports "kassa/internal/sheets"
)

type Store struct {
	mu   sync.Mutex
	rows []ports.Row
}

var _ ports.EntryWriter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// Append stores the row and returns a synthetic reference.
func (s *Store) Append(_ context.Context, r ports.Row) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, r)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []ports.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Row(nil), s.rows...)
}
