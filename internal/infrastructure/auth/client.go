// Package auth is the client side of the backend's auth API: accounts,
// credential checks, the bearer session and its change notifications.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/ports"
)

// ErrSessionChanged reports a refresh whose session was replaced or ended
// while the refresh was in flight.
var ErrSessionChanged = errors.New("session changed during refresh")

const (
	minPasswordLength = 6
	refreshLeeway     = time.Minute
	refreshTimeout    = 10 * time.Second
)

// Options tunes the Client.
type Options struct {
	// AutoConfirm creates accounts already confirmed and skips the mailer.
	AutoConfirm bool
}

// Client implements ports.AuthClient.
type Client struct {
	accounts    ports.AccountRepository
	cache       ports.SessionCache
	mailer      ports.Mailer
	tokens      *TokenManager
	autoConfirm bool
	log         zerolog.Logger

	// transition serializes session changes: cache write, in-memory swap
	// and the emitted event happen as one step.
	transition sync.Mutex

	mu        sync.Mutex
	session   *domain.Session
	gen       uint64
	timer     *time.Timer
	closed    bool
	listeners map[int]func(domain.SessionChange)
	nextID    int
}

func NewClient(
	accounts ports.AccountRepository,
	cache ports.SessionCache,
	mailer ports.Mailer,
	tokens *TokenManager,
	opts Options,
	log zerolog.Logger,
) *Client {
	return &Client{
		accounts:    accounts,
		cache:       cache,
		mailer:      mailer,
		tokens:      tokens,
		autoConfirm: opts.AutoConfirm,
		log:         log,
		listeners:   make(map[int]func(domain.SessionChange)),
	}
}

func (c *Client) SignUp(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return domain.ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return domain.ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	acc := &domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	if c.autoConfirm {
		acc.ConfirmedAt = &now
	}
	if err := c.accounts.Create(ctx, acc); err != nil {
		return err
	}
	c.log.Info().Str("user_id", acc.ID).Bool("confirmed", acc.Confirmed()).Msg("account created")

	if acc.Confirmed() {
		return nil
	}
	token, err := c.tokens.IssueConfirmation(acc.Identity())
	if err != nil {
		return err
	}
	if err := c.mailer.SendConfirmation(ctx, email, token); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	return nil
}

// ConfirmEmail marks the account named by a confirmation token as confirmed.
func (c *Client) ConfirmEmail(ctx context.Context, token string) error {
	id, err := c.tokens.ValidateConfirmation(token)
	if err != nil {
		return err
	}
	if err := c.accounts.Confirm(ctx, id.ID); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.ErrInvalidToken
		}
		return err
	}
	c.log.Info().Str("user_id", id.ID).Msg("account confirmed")
	return nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	acc, err := c.accounts.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !acc.Confirmed() {
		return nil, domain.ErrEmailNotConfirmed
	}

	sess, err := c.tokens.IssueSession(acc.Identity())
	if err != nil {
		return nil, err
	}
	c.transition.Lock()
	defer c.transition.Unlock()
	c.adopt(ctx, sess)
	c.emit(domain.SessionChange{Event: domain.EventSignedIn, Session: cloneSession(sess)})
	return cloneSession(sess), nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()
	if err := c.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	c.dropSession()
	c.emit(domain.SessionChange{Event: domain.EventSignedOut})
	return nil
}

// CurrentSession returns the live session, restoring it from the cache when
// the process has none. An expired access token is refreshed silently; a
// session that cannot be refreshed is discarded.
func (c *Client) CurrentSession(ctx context.Context) (*domain.Session, error) {
	c.mu.Lock()
	if c.session != nil {
		s := cloneSession(c.session)
		c.mu.Unlock()
		return s, nil
	}
	gen := c.gen
	c.mu.Unlock()

	cached, err := c.cache.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cached session: %w", err)
	}
	if cached == nil {
		return nil, nil
	}

	sess := cached
	if _, err := c.tokens.ValidateAccess(cached.AccessToken); err != nil || cached.Expired(c.tokens.now()) {
		sess, err = c.reissue(ctx, cached.RefreshToken)
		if err != nil {
			c.log.Info().Err(err).Msg("cached session not restorable, discarding")
			c.transition.Lock()
			defer c.transition.Unlock()
			if c.generation() == gen {
				if err := c.cache.Clear(ctx); err != nil {
					c.log.Warn().Err(err).Msg("clearing stale session")
				}
			}
			return nil, nil
		}
	}

	c.transition.Lock()
	defer c.transition.Unlock()
	if c.generation() != gen {
		// Signed in or out while restoring; that result stands.
		return c.live(), nil
	}
	c.adopt(ctx, sess)
	return cloneSession(sess), nil
}

// Refresh reissues the current session from its refresh token. A sign-in or
// sign-out that lands while the refresh is in flight wins: the reissued
// session is discarded with ErrSessionChanged.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	cur := c.session
	gen := c.gen
	c.mu.Unlock()
	if cur == nil {
		return domain.ErrNotAuthenticated
	}

	sess, err := c.reissue(ctx, cur.RefreshToken)
	if err != nil {
		return err
	}

	c.transition.Lock()
	defer c.transition.Unlock()
	if c.generation() != gen {
		return ErrSessionChanged
	}
	c.adopt(ctx, sess)
	c.emit(domain.SessionChange{Event: domain.EventTokenRefreshed, Session: cloneSession(sess)})
	return nil
}

func (c *Client) OnSessionChange(fn func(domain.SessionChange)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Close stops background refreshes. The cached session is kept.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) reissue(ctx context.Context, refreshToken string) (*domain.Session, error) {
	id, err := c.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	acc, err := c.accounts.FindByID(ctx, id.ID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}
	return c.tokens.IssueSession(acc.Identity())
}

func (c *Client) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Client) live() *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.session)
}

// adopt makes sess the live session, persists it and schedules its refresh.
// Callers hold c.transition.
func (c *Client) adopt(ctx context.Context, sess *domain.Session) {
	if err := c.cache.Save(ctx, sess); err != nil {
		c.log.Warn().Err(err).Msg("session not cached, it will not survive a restart")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = cloneSession(sess)
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.closed {
		return
	}
	gen := c.gen
	ttl := sess.ExpiresAt.Sub(c.tokens.now())
	delay := ttl - min(refreshLeeway, ttl/5)
	if delay < 0 {
		delay = 0
	}
	c.timer = time.AfterFunc(delay, func() { c.backgroundRefresh(gen) })
}

func (c *Client) backgroundRefresh(gen uint64) {
	c.mu.Lock()
	stale := c.gen != gen || c.closed
	c.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	err := c.Refresh(ctx)
	switch {
	case err == nil:
		c.log.Debug().Msg("session refreshed")
	case errors.Is(err, ErrSessionChanged), errors.Is(err, domain.ErrNotAuthenticated):
		c.log.Debug().Err(err).Msg("session refresh superseded")
	default:
		c.log.Warn().Err(err).Msg("session refresh failed, signing out")
		c.transition.Lock()
		defer c.transition.Unlock()
		if c.generation() != gen {
			return
		}
		if err := c.cache.Clear(ctx); err != nil {
			c.log.Warn().Err(err).Msg("clearing session after failed refresh")
		}
		c.dropSession()
		c.emit(domain.SessionChange{Event: domain.EventSignedOut})
	}
}

func (c *Client) dropSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) emit(change domain.SessionChange) {
	c.mu.Lock()
	fns := make([]func(domain.SessionChange), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

func cloneSession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
