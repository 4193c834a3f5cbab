// Package ristretto is an in-process backend on dgraph-io/ristretto.
//
// Ristretto admits writes probabilistically and may drop them under
// pressure; a dropped set still reports Stored, as a memcached server would
// after an immediate eviction.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"
	"github.com/jonboulle/clockwork"

	"github.com/unkn0wn-root/mcroute/transport"
)

type Store struct {
	c *rc.Cache
}

var _ transport.Store = (*Store)(nil)

type Config struct {
	Name        string
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	Clock       clockwork.Clock // drives frame deadlines; default real clock
}

// New returns a transport over a new Ristretto cache.
func New(cfg Config) (*transport.Framed, error) {
	s, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "ristretto"
	}
	return transport.NewFramed(name, s, cfg.Clock), nil
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set costs an entry by its framed size and waits for the write buffer so a
// following Get observes the value.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.c.SetWithTTL(key, value, int64(len(value)), ttl)
	s.c.Wait()
	return nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.c.Del(key)
	return nil
}

func (s *Store) Close(_ context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes Ristretto's counters when Config.Metrics is set.
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }
