// Package config watches routing configuration for changes.
//
// A Source yields document bytes and reports whether they changed since the
// last committed load. An Observer polls a Source on a Scheduler and hands
// new content to a callback; it never interprets the bytes.
package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Source provides configuration content.
type Source interface {
	// Load returns the current content.
	Load(ctx context.Context) ([]byte, error)
	// HasUpdate reports whether content differs from the last committed load.
	HasUpdate(ctx context.Context) (bool, error)
}

// Committer is implemented by sources that remember what was applied.
// The observer calls Commit after the update callback accepted the content
// returned by the latest Load, so rejected content is offered again only
// once it changes.
type Committer interface {
	Commit()
}

type fingerprint struct {
	size  int64
	mtime time.Time
	sum   uint64
}

// FileSource reads a file. HasUpdate compares size and mtime first and only
// hashes the content when those changed, so touching a file without editing
// it does not trigger a reload.
type FileSource struct {
	path string

	mu        sync.Mutex
	pending   fingerprint
	applied   fingerprint
	committed bool
}

var (
	_ Source    = (*FileSource)(nil)
	_ Committer = (*FileSource)(nil)
)

func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Load(context.Context) ([]byte, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.pending = fingerprint{size: fi.Size(), mtime: fi.ModTime(), sum: xxhash.Sum64(b)}
	s.mu.Unlock()
	return b, nil
}

func (s *FileSource) HasUpdate(context.Context) (bool, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.committed {
		return true, nil
	}
	if fi.Size() == s.applied.size && fi.ModTime().Equal(s.applied.mtime) {
		return false, nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return false, err
	}
	if xxhash.Sum64(b) != s.applied.sum {
		return true, nil
	}
	// same bytes, new stat: remember it to skip hashing next poll.
	s.applied.size, s.applied.mtime = fi.Size(), fi.ModTime()
	return false, nil
}

func (s *FileSource) Commit() {
	s.mu.Lock()
	s.applied, s.committed = s.pending, true
	s.mu.Unlock()
}

// StaticSource serves in-memory content. Set replaces it, which makes
// HasUpdate report true until the new content is committed.
type StaticSource struct {
	mu        sync.Mutex
	data      []byte
	version   uint64
	pending   uint64
	committed uint64
}

var (
	_ Source    = (*StaticSource)(nil)
	_ Committer = (*StaticSource)(nil)
)

func NewStaticSource(data []byte) *StaticSource {
	return &StaticSource{data: bytes.Clone(data), version: 1}
}

// Set replaces the content.
func (s *StaticSource) Set(data []byte) {
	s.mu.Lock()
	s.data = bytes.Clone(data)
	s.version++
	s.mu.Unlock()
}

func (s *StaticSource) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, fmt.Errorf("config: static source is empty")
	}
	s.pending = s.version
	return bytes.Clone(s.data), nil
}

func (s *StaticSource) HasUpdate(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version != s.committed, nil
}

func (s *StaticSource) Commit() {
	s.mu.Lock()
	s.committed = s.pending
	s.mu.Unlock()
}
