// Package memory contains an in-memory notification sink for tests and development.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/numberwatch/internal/notify"
)

// Sink stores sent messages for inspection.
type Sink struct {
	mu       sync.RWMutex
	messages []notify.Message
	err      error
}

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// FailWith makes every following Send return err (nil restores success).
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Send records the message.
func (s *Sink) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns the recorded messages.
func (s *Sink) Messages() []notify.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]notify.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
