package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/roomsync/chat-client/internal/core/domain"
)

// IdentityKey is the echo context key holding the acting domain.Identity.
const IdentityKey = "identity"

// SessionState reports the session store's current state.
type SessionState interface {
	State() domain.SessionState
}

// RequireSession gates a route on an authenticated session. While the store
// is still resolving it answers 503 so the client retries instead of
// redirecting to login.
func RequireSession(store SessionState) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			st := store.State()
			switch {
			case st.Status == domain.StatusUninitialized || st.Status == domain.StatusLoading:
				c.Response().Header().Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "session loading")
			case !st.Authenticated():
				return echo.NewHTTPError(http.StatusUnauthorized, domain.ErrNotAuthenticated.Error())
			}

			c.Set(IdentityKey, *st.Identity)
			return next(c)
		}
	}
}
