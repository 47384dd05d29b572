package ports

import (
	"context"

	"github.com/roomsync/chat-client/internal/core/domain"
)

// AuthClient is the auth API of the backend collaborator.
type AuthClient interface {
	// SignUp creates an account. It never establishes a session.
	SignUp(ctx context.Context, email, password string) error
	// SignIn authenticates and, on success, notifies listeners with
	// domain.EventSignedIn before returning.
	SignIn(ctx context.Context, email, password string) (*domain.Session, error)
	// SignOut terminates the current session and notifies listeners.
	SignOut(ctx context.Context) error
	// CurrentSession returns the restorable session, or nil when there is none.
	CurrentSession(ctx context.Context) (*domain.Session, error)
	// OnSessionChange registers fn and returns a func that unregisters it.
	OnSessionChange(fn func(domain.SessionChange)) (unsubscribe func())
}

// AccountRepository persists credential records for the auth adapter.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	Confirm(ctx context.Context, id string) error
}

// SessionCache keeps the last issued session so a restart can restore it.
// Load returns nil, nil when nothing is cached.
type SessionCache interface {
	Load(ctx context.Context) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
	Clear(ctx context.Context) error
}

// Mailer delivers account confirmation tokens out of band.
type Mailer interface {
	SendConfirmation(ctx context.Context, email, token string) error
}
