package genstore

import (
	"context"
	"sync"
)

// LocalGenStore keeps generations in-process (default).
type LocalGenStore struct {
	mu   sync.Mutex
	gens map[string]uint64
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore() *LocalGenStore {
	return &LocalGenStore{gens: make(map[string]uint64)}
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[k], nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[k]++
	return s.gens[k], nil
}

func (s *LocalGenStore) Close(context.Context) error { return nil }
