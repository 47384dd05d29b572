package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/ports"
)

// SessionStore owns "who is acting". Status moves
// uninitialized → loading → {authenticated | signed_out} and afterwards only
// in response to session-change notifications from the auth backend.
type SessionStore struct {
	auth     ports.AuthClient
	profiles ports.ProfileRepository
	log      zerolog.Logger
	now      func() time.Time

	initOnce    sync.Once
	initErr     error
	unsubscribe func()

	mu    sync.RWMutex
	state domain.SessionState

	changes notifier
}

// NewSessionStore returns an uninitialized SessionStore.
func NewSessionStore(auth ports.AuthClient, profiles ports.ProfileRepository, log zerolog.Logger) *SessionStore {
	return &SessionStore{
		auth:     auth,
		profiles: profiles,
		log:      log,
		now:      time.Now,
		state:    domain.SessionState{Status: domain.StatusUninitialized},
	}
}

// Initialize restores an existing session, if any. Only the first call does
// anything; later calls return the first call's result.
func (s *SessionStore) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.setState(domain.SessionState{Status: domain.StatusLoading})

		// Listen first so a sign-in racing the restore is not lost.
		unsubscribe := s.auth.OnSessionChange(s.handleChange)
		s.mu.Lock()
		s.unsubscribe = unsubscribe
		s.mu.Unlock()

		session, err := s.auth.CurrentSession(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("session restore failed, continuing signed out")
			s.initErr = fmt.Errorf("restore session: %w", err)
			session = nil
		}
		s.resolveInitial(ctx, session)
	})
	return s.initErr
}

// resolveInitial applies the restored session unless a session-change
// notification already decided the state.
func (s *SessionStore) resolveInitial(ctx context.Context, session *domain.Session) {
	next := domain.SessionState{Status: domain.StatusSignedOut}
	if session != nil {
		id := session.Identity
		next = domain.SessionState{Status: domain.StatusAuthenticated, Identity: &id}
	}

	s.mu.Lock()
	if s.state.Status != domain.StatusLoading {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()
	s.changes.notify()

	s.log.Info().Str("status", string(next.Status)).Msg("session initialized")
	if next.Authenticated() {
		s.ensureProfile(ctx, *next.Identity)
	}
}

func (s *SessionStore) handleChange(change domain.SessionChange) {
	var next domain.SessionState
	switch change.Event {
	case domain.EventSignedIn, domain.EventTokenRefreshed:
		if change.Session == nil {
			return
		}
		id := change.Session.Identity
		next = domain.SessionState{Status: domain.StatusAuthenticated, Identity: &id}
	case domain.EventSignedOut:
		next = domain.SessionState{Status: domain.StatusSignedOut}
	default:
		s.log.Debug().Str("event", string(change.Event)).Msg("ignoring session event")
		return
	}

	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.changes.notify()

	s.log.Debug().
		Str("event", string(change.Event)).
		Str("from", string(prev.Status)).
		Str("to", string(next.Status)).
		Msg("session changed")

	entered := next.Authenticated() && (!prev.Authenticated() || prev.Identity.ID != next.Identity.ID)
	if entered {
		s.ensureProfile(context.Background(), *next.Identity)
	}
}

// ensureProfile creates the identity's profile when it has none. Failures are
// logged only.
func (s *SessionStore) ensureProfile(ctx context.Context, id domain.Identity) {
	_, err := s.profiles.Get(ctx, id.ID)
	if err == nil {
		return
	}
	if !errors.Is(err, domain.ErrProfileNotFound) {
		s.log.Warn().Err(err).Str("user_id", id.ID).Msg("profile lookup failed")
		return
	}

	profile := &domain.Profile{
		ID:        id.ID,
		Username:  domain.DefaultUsername(id.Email),
		UpdatedAt: s.now().UTC(),
	}
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		s.log.Warn().Err(err).Str("user_id", id.ID).Msg("profile creation failed")
		return
	}
	s.log.Info().Str("user_id", id.ID).Str("username", profile.Username).Msg("profile created")
}

func (s *SessionStore) setState(state domain.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.changes.notify()
}

// State returns the current session state.
func (s *SessionStore) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the acting identity or domain.ErrNotAuthenticated.
func (s *SessionStore) Identity() (domain.Identity, error) {
	st := s.State()
	if !st.Authenticated() {
		return domain.Identity{}, domain.ErrNotAuthenticated
	}
	return *st.Identity, nil
}

// Watch returns a channel signalled after every state change and a func that
// stops the signals.
func (s *SessionStore) Watch() (<-chan struct{}, func()) {
	return s.changes.watch()
}

// SignUp requests account creation. It never changes the session state.
func (s *SessionStore) SignUp(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.ErrEmptyCredentials
	}
	if err := s.auth.SignUp(ctx, email, password); err != nil {
		return authFailure("Error signing up", err)
	}
	s.log.Info().Str("email", email).Msg("sign up requested")
	return nil
}

// SignIn requests authentication. The state changes when the auth backend
// reports the new session, not here.
func (s *SessionStore) SignIn(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.ErrEmptyCredentials
	}
	if _, err := s.auth.SignIn(ctx, email, password); err != nil {
		return authFailure("Error signing in", err)
	}
	return nil
}

// SignOut requests session termination.
func (s *SessionStore) SignOut(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		return domain.Reject("Error signing out", err)
	}
	return nil
}

// Profile loads the acting identity's profile.
func (s *SessionStore) Profile(ctx context.Context) (*domain.Profile, error) {
	id, err := s.Identity()
	if err != nil {
		return nil, err
	}
	p, err := s.profiles.Get(ctx, id.ID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return nil, err
		}
		return nil, domain.Reject("Error loading settings", err)
	}
	return p, nil
}

// UpdateProfile upserts the acting identity's profile.
func (s *SessionStore) UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (*domain.Profile, error) {
	id, err := s.Identity()
	if err != nil {
		return nil, err
	}
	username := strings.TrimSpace(upd.Username)
	if username == "" {
		return nil, domain.ErrEmptyUsername
	}

	p := &domain.Profile{
		ID:        id.ID,
		Username:  username,
		AvatarURL: strings.TrimSpace(upd.AvatarURL),
		UpdatedAt: s.now().UTC(),
	}
	if err := s.profiles.Upsert(ctx, p); err != nil {
		return nil, domain.Reject("Error updating settings", err)
	}
	return p, nil
}

// Close stops listening for session changes.
func (s *SessionStore) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

var authRejections = []error{
	domain.ErrInvalidCredentials,
	domain.ErrEmailNotConfirmed,
	domain.ErrUserExists,
	domain.ErrInvalidEmail,
	domain.ErrWeakPassword,
	domain.ErrInvalidToken,
}

// authFailure keeps auth rejections whose text is meant for the user and
// wraps anything else under fallback.
func authFailure(fallback string, err error) error {
	for _, known := range authRejections {
		if errors.Is(err, known) {
			return err
		}
	}
	return domain.Reject(fallback, err)
}
