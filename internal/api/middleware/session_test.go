package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/roomsync/chat-client/internal/core/domain"
)

type fixedState struct{ st domain.SessionState }

func (f fixedState) State() domain.SessionState { return f.st }

func runGate(t *testing.T, st domain.SessionState) (called bool, c echo.Context, err error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c = e.NewContext(req, rec)

	h := RequireSession(fixedState{st})(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})
	err = h(c)
	return called, c, err
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestRequireSession_Authenticated(t *testing.T) {
	id := domain.Identity{ID: "u1", Email: "a@example.com"}
	called, c, err := runGate(t, domain.SessionState{Status: domain.StatusAuthenticated, Identity: &id})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !called {
		t.Fatalf("next not called")
	}
	if got, _ := c.Get(IdentityKey).(domain.Identity); got.ID != "u1" {
		t.Fatalf("identity not set, got %+v", c.Get(IdentityKey))
	}
}

func TestRequireSession_Loading(t *testing.T) {
	for _, status := range []domain.SessionStatus{domain.StatusUninitialized, domain.StatusLoading} {
		called, c, err := runGate(t, domain.SessionState{Status: status})
		if called {
			t.Fatalf("%s: next should not be called", status)
		}
		if code := statusOf(t, err); code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", status, code)
		}
		if c.Response().Header().Get("Retry-After") == "" {
			t.Errorf("%s: expected Retry-After header", status)
		}
	}
}

func TestRequireSession_SignedOut(t *testing.T) {
	called, _, err := runGate(t, domain.SessionState{Status: domain.StatusSignedOut})
	if called {
		t.Fatalf("next should not be called")
	}
	if code := statusOf(t, err); code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}
