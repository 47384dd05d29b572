// Package memory is an in-process backend: every repository port plus a
// change feed, sharing one Store. It backs local development and tests.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roomsync/chat-client/internal/infrastructure/feedhub"
)

// Store holds every relation. Writes publish to the feed after the lock is
// released.
type Store struct {
	mu sync.RWMutex

	accounts map[string]accountRow // id -> row
	emails   map[string]string     // email -> id
	profiles map[string]profileRow
	rooms    map[string]roomRow
	messages map[string]messageRow

	// seq orders rows created within the same clock tick.
	seq int64

	feed *feedhub.Hub
	now  func() time.Time
	id   func() string
}

// NewStore returns an empty Store with its own change feed.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		accounts: make(map[string]accountRow),
		emails:   make(map[string]string),
		profiles: make(map[string]profileRow),
		rooms:    make(map[string]roomRow),
		messages: make(map[string]messageRow),
		feed:     feedhub.New(log),
		now:      func() time.Time { return time.Now().UTC() },
		id:       func() string { return uuid.NewString() },
	}
}

// Feed returns the change feed fed by this store.
func (s *Store) Feed() *feedhub.Hub {
	return s.feed
}

// nextSeq must be called with mu held.
func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}
