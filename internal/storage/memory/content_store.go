// Package memory keeps documents and records in-memory for development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

// ContentStore stores documents in-memory keyed by file name.
type ContentStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewContentStore creates a new in-memory content store.
func NewContentStore() *ContentStore {
	return &ContentStore{data: make(map[string][]byte)}
}

// Exists reports whether name has been written.
func (s *ContentStore) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[name]
	return ok, nil
}

// Put stores a copy of the reader's content under name.
func (s *ContentStore) Put(_ context.Context, name string, r io.Reader) error {
	byteData, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read data from reader: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = byteData
	return nil
}

// Open returns a reader over the stored content.
func (s *ContentStore) Open(_ context.Context, name string) (watch.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, watch.ErrNotFound)
	}
	return file{bytes.NewReader(data)}, nil
}

// Content returns a copy of the stored bytes (nil when missing).
func (s *ContentStore) Content(name string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil
	}
	return append([]byte(nil), data...)
}

type file struct {
	*bytes.Reader
}

func (file) Close() error { return nil }
