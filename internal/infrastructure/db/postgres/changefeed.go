package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/ports"
	"github.com/roomsync/chat-client/internal/infrastructure/feedhub"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// ChangeFeed turns NOTIFY chat_changes into domain change events. One pooled
// connection stays in LISTEN mode; events fan out to subscriptions through a
// feedhub.Hub.
type ChangeFeed struct {
	pool *pgxpool.Pool
	hub  *feedhub.Hub
	log  zerolog.Logger

	mu     sync.Mutex
	live   chan struct{} // closed while LISTEN is active
	cancel context.CancelFunc
	done   chan struct{}
}

func NewChangeFeed(pool *pgxpool.Pool, log zerolog.Logger) *ChangeFeed {
	return &ChangeFeed{
		pool: pool,
		hub:  feedhub.New(log),
		log:  log,
		live: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start runs the listener until ctx is cancelled or Close is called,
// reconnecting with backoff when the connection drops.
func (f *ChangeFeed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	go f.run(ctx)
}

// Subscribe waits until LISTEN is active, so every change committed after it
// returns is delivered.
func (f *ChangeFeed) Subscribe(ctx context.Context, q domain.FeedQuery) (ports.FeedSubscription, error) {
	f.mu.Lock()
	live := f.live
	f.mu.Unlock()

	select {
	case <-live:
	case <-f.done:
		return nil, feedhub.ErrClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for change feed: %w", ctx.Err())
	}
	return f.hub.Subscribe(ctx, q)
}

// Close stops the listener and ends every subscription.
func (f *ChangeFeed) Close() {
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
		<-f.done
	}
	f.hub.Close()
}

func (f *ChangeFeed) run(ctx context.Context) {
	defer close(f.done)

	backoff := minBackoff
	for {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		f.log.Warn().Err(err).Dur("retry_in", backoff).Msg("change feed disconnected, changes until reconnect are missed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// listen holds one connection in LISTEN mode until it fails.
func (f *ChangeFeed) listen(ctx context.Context) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer func() {
		// A connection left in LISTEN mode must not go back to the pool.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	f.setLive(true)
	defer f.setLive(false)
	f.log.Info().Str("channel", notifyChannel).Msg("change feed listening")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		ev, err := decodeNotification([]byte(n.Payload))
		if err != nil {
			f.log.Warn().Err(err).Str("payload", n.Payload).Msg("undecodable change notification")
			continue
		}
		f.hub.Publish(ev)
	}
}

func (f *ChangeFeed) setLive(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.live:
		if !on {
			f.live = make(chan struct{})
		}
	default:
		if on {
			close(f.live)
		}
	}
}

type notification struct {
	Relation string         `json:"relation"`
	Type     string         `json:"type"`
	ID       string         `json:"id"`
	Record   map[string]any `json:"record"`
}

var errUnknownRelation = errors.New("unknown relation")

func decodeNotification(payload []byte) (domain.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode notification: %w", err)
	}

	rel := domain.Relation(n.Relation)
	switch rel {
	case domain.RelationProfiles, domain.RelationRooms, domain.RelationMessages:
	default:
		return domain.ChangeEvent{}, fmt.Errorf("%w %q", errUnknownRelation, n.Relation)
	}

	typ := domain.ChangeType(n.Type)
	switch typ {
	case domain.ChangeInsert, domain.ChangeUpdate, domain.ChangeDelete:
	default:
		return domain.ChangeEvent{}, fmt.Errorf("unknown change type %q", n.Type)
	}
	if n.ID == "" {
		return domain.ChangeEvent{}, errors.New("notification without id")
	}
	return domain.ChangeEvent{Relation: rel, Type: typ, RecordID: n.ID, Record: n.Record}, nil
}
