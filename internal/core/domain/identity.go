package domain

import (
	"strings"
	"time"
)

// Identity is the authenticated actor as issued by the auth backend.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the bearer session held for an Identity. Tokens are opaque to
// everything except the auth adapter that issued them.
type Session struct {
	Identity     Identity  `json:"identity"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Account is the credential record behind an Identity.
type Account struct {
	ID           string     `json:"id" bson:"_id"`
	Email        string     `json:"email" bson:"email"`
	PasswordHash string     `json:"-" bson:"password_hash"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty" bson:"confirmed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
}

// Confirmed reports whether the account's email address has been verified.
func (a *Account) Confirmed() bool {
	return a.ConfirmedAt != nil
}

// Identity returns the public identity of the account.
func (a *Account) Identity() Identity {
	return Identity{ID: a.ID, Email: a.Email}
}

// DefaultUsername derives the username a new profile starts with: the local
// part of the email address, or the whole address when there is none.
func DefaultUsername(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return email
	}
	return local
}
