package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/roomsync/chat-client/internal/api/middleware"
	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/service"
)

// ---------------------------------------------------------------------------
// Stub services
// ---------------------------------------------------------------------------

type watchable struct {
	ch chan struct{}
}

func newWatchable() watchable { return watchable{ch: make(chan struct{}, 1)} }

func (w watchable) Watch() (<-chan struct{}, func()) { return w.ch, func() {} }

func (w watchable) signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

type stubSession struct {
	watchable
	mu        sync.Mutex
	state     domain.SessionState
	signUpErr error
	signInErr error
	profile   *domain.Profile
	updated   *domain.ProfileUpdate
	calls     []string
}

func (s *stubSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubSession) setState(st domain.SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *stubSession) SignUp(_ context.Context, email, _ string) error {
	s.calls = append(s.calls, "signup:"+email)
	return s.signUpErr
}

func (s *stubSession) SignIn(_ context.Context, email, _ string) error {
	s.calls = append(s.calls, "signin:"+email)
	if s.signInErr != nil {
		return s.signInErr
	}
	s.setState(authenticated("u1"))
	return nil
}

func (s *stubSession) SignOut(context.Context) error {
	s.calls = append(s.calls, "signout")
	s.setState(domain.SessionState{Status: domain.StatusSignedOut})
	return nil
}

func (s *stubSession) Profile(context.Context) (*domain.Profile, error) {
	if s.profile == nil {
		return nil, domain.ErrProfileNotFound
	}
	return s.profile, nil
}

func (s *stubSession) UpdateProfile(_ context.Context, upd domain.ProfileUpdate) (*domain.Profile, error) {
	s.updated = &upd
	return &domain.Profile{ID: "u1", Username: upd.Username, AvatarURL: upd.AvatarURL}, nil
}

type stubConfirmer struct {
	tokens []string
	err    error
}

func (s *stubConfirmer) ConfirmEmail(_ context.Context, token string) error {
	s.tokens = append(s.tokens, token)
	return s.err
}

type stubNav struct {
	route      service.Route
	showErr    error
	shows      int
	joined     []string
	joinSecret string
	joinErr    error
	leaves     int
}

func (n *stubNav) Route() service.Route { return n.route }

func (n *stubNav) ShowRooms(context.Context) error {
	n.shows++
	if n.showErr == nil {
		n.route = service.Route{View: service.ViewRooms}
	}
	return n.showErr
}

func (n *stubNav) JoinRoom(_ context.Context, roomID, secret string) (*domain.Room, error) {
	n.joined = append(n.joined, roomID)
	n.joinSecret = secret
	if n.joinErr != nil {
		return nil, n.joinErr
	}
	n.route = service.Route{View: service.ViewRoom, RoomID: roomID}
	return &domain.Room{ID: roomID}, nil
}

func (n *stubNav) LeaveRoom(ctx context.Context) error {
	n.leaves++
	return n.ShowRooms(ctx)
}

type stubDirectory struct {
	watchable
	mu      sync.Mutex
	snap    service.DirectorySnapshot
	created []string
	deleted []string
	err     error
}

func (d *stubDirectory) Snapshot() service.DirectorySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

func (d *stubDirectory) setSnapshot(s service.DirectorySnapshot) {
	d.mu.Lock()
	d.snap = s
	d.mu.Unlock()
}

func (d *stubDirectory) Create(_ context.Context, name, secret string) (*domain.Room, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.created = append(d.created, name)
	return &domain.Room{ID: "new", Name: name, CreatedBy: "u1", Secret: secret}, nil
}

func (d *stubDirectory) Delete(_ context.Context, roomID string) error {
	if d.err != nil {
		return d.err
	}
	d.deleted = append(d.deleted, roomID)
	return nil
}

type stubStream struct {
	watchable
	snap service.StreamSnapshot
	sent []string
	err  error
}

func (s *stubStream) Snapshot() service.StreamSnapshot { return s.snap }

func (s *stubStream) Send(_ context.Context, content string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, content)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func authenticated(id string) domain.SessionState {
	return domain.SessionState{
		Status:   domain.StatusAuthenticated,
		Identity: &domain.Identity{ID: id, Email: id + "@example.com"},
	}
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

// newContext builds a request context; a non-empty userID marks it as having
// passed middleware.RequireSession.
func newContext(e *echo.Echo, method, target, body, userID string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID != "" {
		c.Set(middleware.IdentityKey, domain.Identity{ID: userID})
	}
	return c, rec
}
