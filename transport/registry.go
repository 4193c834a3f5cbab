package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry shares transports between routing generations. Each generation
// acquires the transports it references and releases them when it is
// retired; a transport is closed when its last reference goes away, so a
// backend that survives a reload keeps its connections.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*regEntry
}

type regEntry struct {
	t    Transport
	refs int
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*regEntry)}
}

// Acquire returns the transport registered under id, opening it with open on
// first use. Every successful Acquire must be paired with a Release.
func (r *Registry) Acquire(id string, open func() (Transport, error)) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.refs++
		return e.t, nil
	}
	t, err := open()
	if err != nil {
		return nil, fmt.Errorf("open transport %s: %w", id, err)
	}
	r.entries[id] = &regEntry{t: t, refs: 1}
	return t, nil
}

// Release drops one reference to id and closes the transport at zero.
func (r *Registry) Release(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("release transport %s: not registered", id)
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, id)
	r.mu.Unlock()
	return e.t.Close(ctx)
}

// Refs returns the reference count for id (0 if absent).
func (r *Registry) Refs(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e.refs
	}
	return 0
}

// Len returns the number of open transports.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every transport regardless of references.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*regEntry)
	r.mu.Unlock()

	var errs []error
	for id, e := range entries {
		if err := e.t.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close transport %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
