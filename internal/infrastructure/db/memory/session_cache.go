package memory

import (
	"context"
	"sync"

	"github.com/roomsync/chat-client/internal/core/domain"
)

// SessionCache keeps the session for the lifetime of the process only.
type SessionCache struct {
	mu      sync.Mutex
	session *domain.Session
}

func NewSessionCache() *SessionCache {
	return &SessionCache{}
}

func (c *SessionCache) Load(context.Context) (*domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, nil
	}
	s := *c.session
	return &s, nil
}

func (c *SessionCache) Save(_ context.Context, session *domain.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := *session
	c.session = &s
	return nil
}

func (c *SessionCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	return nil
}
