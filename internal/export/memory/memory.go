package memory

import (
	"context"
	"fmt"
	"sync"

	"coffer/internal/export"
	"coffer/internal/storage"
)

// Store is an in-memory exporter for dev setups and tests.
type Store struct {
	mu   sync.Mutex
	rows []storage.Operation
}

// Ensure interface conformance
var _ export.Exporter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// Append stores the operation and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, op storage.Operation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, op)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []storage.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Operation(nil), s.rows...)
}
