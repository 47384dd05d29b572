package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/roomsync/chat-client/internal/api/handler"
	"github.com/roomsync/chat-client/internal/api/middleware"
	"github.com/roomsync/chat-client/internal/infrastructure/http/handlers"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	Session   handler.SessionService
	Confirmer handler.EmailConfirmer
	Navigator handler.Navigation
	Directory handler.Directory
	Stream    handler.Stream

	// Health maps dependency names to their readiness pings.
	Health    map[string]handlers.Pinger
	// WSOrigins are extra origins allowed to open the live websocket.
	WSOrigins []string
	// Registry receives the HTTP metrics and backs /metrics. Nil means the
	// default registry, which also holds the sync metrics.
	Registry  *prometheus.Registry
	Log       zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.Logger())

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		metrics                          = promhttp.Handler()
	)
	if d.Registry != nil {
		registerer = d.Registry
		metrics = promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "chat",
		Registerer: registerer,
	}))

	// --- Handlers ---
	sessionHandler := handler.NewSessionHandler(d.Session, d.Confirmer, d.Navigator)
	roomHandler := handler.NewRoomHandler(d.Navigator, d.Directory, d.Stream)
	liveHandler := handler.NewLiveHandler(d.Session, d.Navigator, d.Directory, d.Stream, d.WSOrigins, d.Log)

	// --- Health probes and metrics (no session required) ---
	e.GET("/health", handlers.NewHealthHandler().Liveness)
	e.GET("/health/ready", handlers.NewHealthDependenciesHandler(d.Health).Readiness)
	e.GET("/metrics", echo.WrapHandler(metrics))

	// --- Public routes ---
	pub := e.Group("/api")
	pub.GET("/session", sessionHandler.Session)
	pub.POST("/auth/signup", sessionHandler.SignUp)
	pub.POST("/auth/signin", sessionHandler.SignIn)
	pub.GET("/auth/confirm", sessionHandler.Confirm)

	// --- Gated routes ---
	gated := e.Group("/api", middleware.RequireSession(d.Session))
	gated.POST("/auth/signout", sessionHandler.SignOut)
	gated.GET("/profile", sessionHandler.Profile)
	gated.PUT("/profile", sessionHandler.UpdateProfile)
	gated.GET("/rooms", roomHandler.ListRooms)
	gated.POST("/rooms", roomHandler.CreateRoom)
	gated.DELETE("/rooms/:id", roomHandler.DeleteRoom)
	gated.POST("/rooms/:id/join", roomHandler.JoinRoom)
	gated.GET("/room", roomHandler.CurrentRoom)
	gated.POST("/room/messages", roomHandler.SendMessage)
	gated.POST("/room/leave", roomHandler.LeaveRoom)
	gated.GET("/ws", liveHandler.Live)

	return e
}
