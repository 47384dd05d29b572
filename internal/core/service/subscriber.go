package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/ports"
)

// EventHandler reconciles one change event into view state. ctx is cancelled
// when the owning subscription closes.
type EventHandler func(ctx context.Context, ev domain.ChangeEvent)

// Subscriber bridges the backend change feed into per-view handlers.
type Subscriber struct {
	feed       ports.ChangeFeed
	dispatch   ports.Dispatcher
	metrics    ports.SyncMetrics
	log        zerolog.Logger
	generation atomic.Uint64
}

// NewSubscriber returns a Subscriber. A nil dispatcher runs handlers inline
// on the subscription's receive goroutine; nil metrics are discarded.
func NewSubscriber(feed ports.ChangeFeed, dispatch ports.Dispatcher, metrics ports.SyncMetrics, log zerolog.Logger) *Subscriber {
	if dispatch == nil {
		dispatch = inlineDispatcher{}
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Subscriber{feed: feed, dispatch: dispatch, metrics: metrics, log: log}
}

// Open establishes a subscription for query and returns once the backend
// reports it live. Events outside the query's scope are dropped; the rest are
// handed to onEvent in arrival order, one at a time per scope.
//
// The subscription outlives ctx; only Close ends it.
func (s *Subscriber) Open(ctx context.Context, query domain.FeedQuery, onEvent EventHandler) (*Subscription, error) {
	backend, err := s.feed.Subscribe(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", query.Scope(), err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Subscription{
		generation: s.generation.Add(1),
		query:      query,
		backend:    backend,
		ctx:        subCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
		metrics:    s.metrics,
	}
	s.metrics.SubscriptionOpened(string(query.Relation))

	go s.pump(h, onEvent)

	s.log.Debug().
		Str("scope", query.Scope()).
		Uint64("generation", h.generation).
		Msg("subscription opened")
	return h, nil
}

func (s *Subscriber) pump(h *Subscription, onEvent EventHandler) {
	defer close(h.done)

	events := h.backend.Events()
	scope := h.query.Scope()
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if !h.Closed() {
					s.log.Warn().Str("scope", scope).Msg("change feed ended before subscription was closed")
				}
				return
			}
			if !h.query.Matches(ev) {
				continue
			}
			s.metrics.EventReceived(string(ev.Relation), string(ev.Type))

			s.dispatch.Dispatch(scope, func(workerCtx context.Context) {
				if h.Closed() || workerCtx.Err() != nil {
					s.metrics.ReconcileDropped(string(ev.Relation), "closed")
					return
				}
				onEvent(h.ctx, ev)
			})
		}
	}
}

// Subscription is the handle returned by Subscriber.Open.
type Subscription struct {
	generation uint64
	query      domain.FeedQuery
	backend    ports.FeedSubscription
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	metrics    ports.SyncMetrics

	closed   atomic.Bool
	once     sync.Once
	closeErr error
}

// Generation is unique per Subscriber and increases with every Open.
func (h *Subscription) Generation() uint64 { return h.generation }

// Closed reports whether Close has been called.
func (h *Subscription) Closed() bool { return h.closed.Load() }

// Done is closed once the receive goroutine has exited.
func (h *Subscription) Done() <-chan struct{} { return h.done }

// Close tears the subscription down. Only the first call has any effect.
func (h *Subscription) Close() error {
	h.once.Do(func() {
		h.closed.Store(true)
		h.cancel()
		h.closeErr = h.backend.Close()
		h.metrics.SubscriptionClosed(string(h.query.Relation))
	})
	return h.closeErr
}

// inlineDispatcher runs every task on the calling goroutine.
type inlineDispatcher struct{}

func (inlineDispatcher) Dispatch(_ string, task func(ctx context.Context)) {
	task(context.Background())
}
