// Package feedhub fans change events out to subscriptions filtered by
// domain.FeedQuery. Backends that receive one shared stream of changes
// publish into a Hub.
package feedhub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/ports"
)

const subscriptionBuffer = 256

// ErrClosed is returned by Subscribe once the Hub is closed.
var ErrClosed = errors.New("change feed closed")

// Hub implements ports.ChangeFeed. A subscription is live as soon as
// Subscribe returns.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	log    zerolog.Logger
	closed bool
}

// New returns a Hub with no subscriptions.
func New(log zerolog.Logger) *Hub {
	return &Hub{subs: make(map[*subscription]struct{}), log: log}
}

func (f *Hub) Subscribe(ctx context.Context, q domain.FeedQuery) (ports.FeedSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{
		hub:    f,
		query:  q,
		events: make(chan domain.ChangeEvent, subscriptionBuffer),
		done:   make(chan struct{}),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	f.subs[sub] = struct{}{}
	f.log.Debug().Str("scope", q.Scope()).Int("subscriptions", len(f.subs)).Msg("feed subscription opened")
	return sub, nil
}

// Publish delivers ev to every subscription whose query matches. It blocks
// while a matching subscription's buffer is full.
func (f *Hub) Publish(ev domain.ChangeEvent) {
	f.mu.Lock()
	targets := make([]*subscription, 0, len(f.subs))
	for s := range f.subs {
		if s.query.Matches(ev) {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.deliver(ev)
	}
}

// Len returns the number of open subscriptions.
func (f *Hub) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close ends every subscription and rejects new ones.
func (f *Hub) Close() {
	f.mu.Lock()
	f.closed = true
	subs := make([]*subscription, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
}

func (f *Hub) remove(s *subscription) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
}

type subscription struct {
	hub    *Hub
	query  domain.FeedQuery
	events chan domain.ChangeEvent

	// sendMu orders deliver against close(events).
	sendMu sync.Mutex
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

func (s *subscription) deliver(ev domain.ChangeEvent) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
		s.sendMu.Lock()
		close(s.events)
		s.sendMu.Unlock()
	})
	return nil
}
