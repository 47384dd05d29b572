package domain

// SessionStatus is the lifecycle state of the Session Store.
type SessionStatus string

const (
	StatusUninitialized SessionStatus = "uninitialized"
	StatusLoading       SessionStatus = "loading"
	StatusAuthenticated SessionStatus = "authenticated"
	StatusSignedOut     SessionStatus = "signed_out"
)

// SessionState is the read-only value observed by views.
type SessionState struct {
	Status   SessionStatus `json:"status"`
	Identity *Identity     `json:"identity,omitempty"`
}

// Authenticated reports whether the state carries an identity.
func (s SessionState) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != nil
}

// SessionEvent names a push notification from the auth backend.
type SessionEvent string

const (
	EventSignedIn       SessionEvent = "SIGNED_IN"
	EventSignedOut      SessionEvent = "SIGNED_OUT"
	EventTokenRefreshed SessionEvent = "TOKEN_REFRESHED"
)

// SessionChange is delivered to session listeners. Session is nil for
// EventSignedOut.
type SessionChange struct {
	Event   SessionEvent
	Session *Session
}
