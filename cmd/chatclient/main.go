package main

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"net/url"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/roomsync/chat-client/internal/api"
	"github.com/roomsync/chat-client/internal/api/metrics"
	"github.com/roomsync/chat-client/internal/core/service"
	"github.com/roomsync/chat-client/internal/infrastructure/auth"
	"github.com/roomsync/chat-client/internal/infrastructure/config"
	"github.com/roomsync/chat-client/internal/infrastructure/http/handlers"
	"github.com/roomsync/chat-client/internal/infrastructure/queue"
	"github.com/roomsync/chat-client/pkg/logger"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg := config.Load()
	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  !cfg.IsProduction(),
		Service: "chat-client",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, startupTimeout)
	store, err := openBackend(startCtx, cfg)
	if err != nil {
		startCancel()
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("backend unavailable")
	}
	cache, err := openSessionCache(startCtx, cfg)
	startCancel()
	if err != nil {
		log.Fatal().Err(err).Str("session_cache", cfg.SessionCache).Msg("session cache unavailable")
	}

	// --- Reconciliation workers ---
	dispatcher := queue.NewDispatcher(cfg.ReconcileWorkers, func(worker int) queue.Gauge {
		return metrics.QueueDepth(worker)
	}, logger.For("dispatcher"))
	dispatcher.Start(ctx)

	// --- Auth ---
	tokens := auth.NewTokenManager(auth.TokenConfig{
		Secret:     cfg.Auth.JWTSecret,
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
	})
	authClient := auth.NewClient(
		store.accounts,
		cache.cache,
		auth.NewLogMailer(cfg.PublicURL, logger.For("mailer")),
		tokens,
		auth.Options{AutoConfirm: cfg.Auth.AutoConfirm},
		logger.For("auth"),
	)

	// --- Views ---
	recorder := metrics.Recorder{}
	subscriber := service.NewSubscriber(store.feed, dispatcher, recorder, logger.For("subscriber"))
	sessions := service.NewSessionStore(authClient, store.profiles, logger.For("session"))
	directory := service.NewRoomDirectory(sessions, store.rooms, store.messages, subscriber, recorder, logger.For("rooms"))
	stream := service.NewMessageStream(sessions, store.rooms, store.messages, subscriber, recorder, logger.For("messages"))
	navigator := service.NewNavigator(sessions, directory, stream, logger.For("navigator"))

	if err := sessions.Initialize(ctx); err != nil {
		log.Warn().Err(err).Msg("session restore failed, starting signed out")
	}
	go navigator.Run(ctx)

	// --- HTTP ---
	health := make(map[string]handlers.Pinger)
	maps.Copy(health, store.health)
	maps.Copy(health, cache.health)

	e := api.NewRouter(api.Deps{
		Session:   sessions,
		Confirmer: authClient,
		Navigator: navigator,
		Directory: directory,
		Stream:    stream,
		Health:    health,
		WSOrigins: originHosts(cfg.PublicURL),
		Log:       logger.For("http"),
	})

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().
		Str("port", cfg.Port).
		Str("backend", cfg.Backend).
		Str("session_cache", cfg.SessionCache).
		Msg("chat client started")

	wait := gfshutdown.GracefulShutdown(ctx, shutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
		"views": func(context.Context) error {
			navigator.CloseAll()
			sessions.Close()
			authClient.Close()
			cancel()
			dispatcher.Wait()
			return nil
		},
		"backend":       store.close,
		"session_cache": cache.close,
	})

	exitCode := <-wait
	log.Info().Int("exit_code", exitCode).Msg("chat client stopped")
	os.Exit(exitCode)
}

// originHosts turns the public URL into the websocket origin pattern list.
func originHosts(publicURL string) []string {
	u, err := url.Parse(publicURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
