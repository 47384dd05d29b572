package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/roomsync/chat-client/internal/api/middleware"
	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/service"
)

// SessionService is the slice of *service.SessionStore the handlers use.
type SessionService interface {
	State() domain.SessionState
	Watch() (<-chan struct{}, func())
	SignUp(ctx context.Context, email, password string) error
	SignIn(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	Profile(ctx context.Context) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (*domain.Profile, error)
}

// EmailConfirmer redeems confirmation tokens. *auth.Client satisfies it.
type EmailConfirmer interface {
	ConfirmEmail(ctx context.Context, token string) error
}

// Navigation is the slice of *service.Navigator the handlers use.
type Navigation interface {
	Route() service.Route
	ShowRooms(ctx context.Context) error
	JoinRoom(ctx context.Context, roomID, secret string) (*domain.Room, error)
	LeaveRoom(ctx context.Context) error
}

// Directory is the slice of *service.RoomDirectory the handlers use.
type Directory interface {
	Snapshot() service.DirectorySnapshot
	Watch() (<-chan struct{}, func())
	Create(ctx context.Context, name, secret string) (*domain.Room, error)
	Delete(ctx context.Context, roomID string) error
}

// Stream is the slice of *service.MessageStream the handlers use.
type Stream interface {
	Snapshot() service.StreamSnapshot
	Watch() (<-chan struct{}, func())
	Send(ctx context.Context, content string) error
}

// ctxIdentity returns the identity injected by middleware.RequireSession.
func ctxIdentity(c echo.Context) (domain.Identity, error) {
	id, ok := c.Get(middleware.IdentityKey).(domain.Identity)
	if !ok || id.ID == "" {
		return domain.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "missing session identity")
	}
	return id, nil
}

// bindValid binds the request body into req and runs the struct validator.
func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
