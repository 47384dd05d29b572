package main

import (
	"context"
	"fmt"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"

	"github.com/roomsync/chat-client/internal/core/ports"
	"github.com/roomsync/chat-client/internal/infrastructure/config"
	"github.com/roomsync/chat-client/internal/infrastructure/db/memory"
	mongodb "github.com/roomsync/chat-client/internal/infrastructure/db/mongo"
	"github.com/roomsync/chat-client/internal/infrastructure/db/postgres"
	redisdb "github.com/roomsync/chat-client/internal/infrastructure/db/redis"
	"github.com/roomsync/chat-client/internal/infrastructure/http/handlers"
	"github.com/roomsync/chat-client/pkg/logger"
)

// backend bundles the repositories and change feed of one storage backend.
type backend struct {
	accounts ports.AccountRepository
	profiles ports.ProfileRepository
	rooms    ports.RoomRepository
	messages ports.MessageRepository
	feed     ports.ChangeFeed

	health map[string]handlers.Pinger
	close  gfshutdown.Operation
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	log := logger.For("backend")
	switch cfg.Backend {
	case config.BackendPostgres:
		return openPostgres(ctx, cfg.Postgres, log)
	case config.BackendMongo:
		return openMongo(ctx, cfg.Mongo, log)
	default:
		return openMemory(log), nil
	}
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig, log zerolog.Logger) (*backend, error) {
	pool, err := postgres.Connect(ctx, postgres.Config{URL: cfg.URL, MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	feed := postgres.NewChangeFeed(pool, log)
	feed.Start(ctx)

	return &backend{
		accounts: postgres.NewAccountRepository(pool),
		profiles: postgres.NewProfileRepository(pool),
		rooms:    postgres.NewRoomRepository(pool),
		messages: postgres.NewMessageRepository(pool),
		feed:     feed,
		health:   map[string]handlers.Pinger{"postgres": pool.Ping},
		close: func(context.Context) error {
			feed.Close()
			pool.Close()
			return nil
		},
	}, nil
}

func openMongo(ctx context.Context, cfg config.MongoConfig, log zerolog.Logger) (*backend, error) {
	client, db, err := mongodb.Connect(ctx, mongodb.Config{URI: cfg.URI, Database: cfg.Database})
	if err != nil {
		return nil, err
	}
	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}

	feed := mongodb.NewChangeFeed(db, log)
	return &backend{
		accounts: mongodb.NewAccountRepository(db),
		profiles: mongodb.NewProfileRepository(db),
		rooms:    mongodb.NewRoomRepository(db),
		messages: mongodb.NewMessageRepository(db),
		feed:     feed,
		health: map[string]handlers.Pinger{
			"mongodb": func(ctx context.Context) error { return client.Ping(ctx, nil) },
		},
		close: func(ctx context.Context) error {
			feed.Close()
			return client.Disconnect(ctx)
		},
	}, nil
}

func openMemory(log zerolog.Logger) *backend {
	log.Warn().Msg("using the in-memory backend, data is lost on exit")
	store := memory.NewStore(log)
	return &backend{
		accounts: memory.NewAccountRepository(store),
		profiles: memory.NewProfileRepository(store),
		rooms:    memory.NewRoomRepository(store),
		messages: memory.NewMessageRepository(store),
		feed:     store.Feed(),
		health:   map[string]handlers.Pinger{},
		close: func(context.Context) error {
			store.Feed().Close()
			return nil
		},
	}
}

// sessionCache picks where the auth client keeps the current session.
type sessionCache struct {
	cache  ports.SessionCache
	health map[string]handlers.Pinger
	close  gfshutdown.Operation
}

func openSessionCache(ctx context.Context, cfg *config.Config) (*sessionCache, error) {
	if cfg.SessionCache != config.CacheRedis {
		return &sessionCache{
			cache:  memory.NewSessionCache(),
			health: map[string]handlers.Pinger{},
			close:  func(context.Context) error { return nil },
		}, nil
	}

	client, err := redisdb.Connect(ctx, redisdb.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	if err != nil {
		return nil, err
	}
	cache := redisdb.NewSessionCache(client, cfg.Auth.SessionKey, cfg.Auth.RefreshTokenTTL)
	return &sessionCache{
		cache:  cache,
		health: map[string]handlers.Pinger{"redis": cache.Ping},
		close:  func(context.Context) error { return client.Close() },
	}, nil
}
