package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	signUpMessage   = "Please check your email for the confirmation link."
	confirmMessage  = "Email confirmed. You can now sign in."
	settingsMessage = "Settings updated successfully!"
)

// SessionHandler serves the session, auth and settings endpoints.
type SessionHandler struct {
	session SessionService
	confirm EmailConfirmer
	nav     Navigation
}

func NewSessionHandler(session SessionService, confirm EmailConfirmer, nav Navigation) *SessionHandler {
	return &SessionHandler{session: session, confirm: confirm, nav: nav}
}

func (h *SessionHandler) current() sessionResponse {
	return toSessionResponse(h.session.State(), h.nav.Route())
}

// Session reports the session state and the screen to render.
//
// @Summary      Current session
// @Tags         session
// @Produce      json
// @Success      200  {object}  sessionResponse
// @Router       /api/session [get]
func (h *SessionHandler) Session(c echo.Context) error {
	return c.JSON(http.StatusOK, h.current())
}

// SignUp requests a new account. No session is established.
//
// @Summary      Sign up
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      credentialsRequest  true  "Credentials"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /api/auth/signup [post]
func (h *SessionHandler) SignUp(c echo.Context) error {
	var req credentialsRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if err := h.session.SignUp(c.Request().Context(), req.Email, req.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: signUpMessage})
}

// SignIn authenticates and returns the new session state.
//
// @Summary      Sign in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      credentialsRequest  true  "Credentials"
// @Success      200   {object}  sessionResponse
// @Failure      401   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Router       /api/auth/signin [post]
func (h *SessionHandler) SignIn(c echo.Context) error {
	var req credentialsRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if err := h.session.SignIn(c.Request().Context(), req.Email, req.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.current())
}

// Confirm redeems the token from the confirmation email.
//
// @Summary      Confirm email
// @Tags         auth
// @Produce      json
// @Param        token  query     string  true  "Confirmation token"
// @Success      200    {object}  messageResponse
// @Failure      401    {object}  errorResponse
// @Router       /api/auth/confirm [get]
func (h *SessionHandler) Confirm(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	if err := h.confirm.ConfirmEmail(c.Request().Context(), token); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: confirmMessage})
}

// SignOut ends the session.
//
// @Summary      Sign out
// @Tags         auth
// @Produce      json
// @Success      200  {object}  sessionResponse
// @Router       /api/auth/signout [post]
func (h *SessionHandler) SignOut(c echo.Context) error {
	if err := h.session.SignOut(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.current())
}

// Profile returns the caller's own profile.
//
// @Summary      Get settings
// @Tags         profile
// @Produce      json
// @Success      200  {object}  profileResponse
// @Failure      404  {object}  errorResponse
// @Router       /api/profile [get]
func (h *SessionHandler) Profile(c echo.Context) error {
	p, err := h.session.Profile(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profileResponse{Profile: p})
}

// UpdateProfile saves the caller's username and avatar.
//
// @Summary      Update settings
// @Tags         profile
// @Accept       json
// @Produce      json
// @Param        body  body      profileRequest  true  "Profile"
// @Success      200   {object}  profileResponse
// @Failure      400   {object}  errorResponse
// @Router       /api/profile [put]
func (h *SessionHandler) UpdateProfile(c echo.Context) error {
	var req profileRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	p, err := h.session.UpdateProfile(c.Request().Context(), toProfileUpdate(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profileResponse{Message: settingsMessage, Profile: p})
}
