package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/ports"
)

// StreamSnapshot is the renderable state of the message view.
type StreamSnapshot struct {
	Open     bool             `json:"open"`
	Loading  bool             `json:"loading"`
	RoomID   string           `json:"room_id,omitempty"`
	RoomName string           `json:"room_name,omitempty"`
	Error    string           `json:"error,omitempty"`
	Messages []domain.Message `json:"messages"`
}

// MessageStream maintains the ordered messages of one room at a time.
type MessageStream struct {
	session  IdentitySource
	rooms    ports.RoomRepository
	messages ports.MessageRepository
	feed     *Subscriber
	metrics  ports.SyncMetrics
	log      zerolog.Logger

	mu         sync.Mutex
	generation uint64
	open       bool
	roomID     string
	room       *domain.Room
	sub        *Subscription
	items      *OrderedSet[domain.Message]
	loaded     bool
	loadErr    error

	changes notifier
}

// NewMessageStream returns a closed MessageStream.
func NewMessageStream(
	session IdentitySource,
	rooms ports.RoomRepository,
	messages ports.MessageRepository,
	feed *Subscriber,
	metrics ports.SyncMetrics,
	log zerolog.Logger,
) *MessageStream {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &MessageStream{
		session:  session,
		rooms:    rooms,
		messages: messages,
		feed:     feed,
		metrics:  metrics,
		log:      log,
	}
}

// Open subscribes to the room's message inserts, then loads the room name and
// the existing messages. Anything inserted between the two steps arrives via
// the feed and is merged with the loaded messages.
func (s *MessageStream) Open(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return domain.ErrRoomNotFound
	}

	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return domain.ErrViewOpen
	}
	s.generation++
	token := s.generation
	s.open = true
	s.roomID = roomID
	s.room = nil
	s.items = newMessageSet()
	s.loaded = false
	s.loadErr = nil
	s.mu.Unlock()
	s.changes.notify()

	query := domain.FeedQuery{
		Relation: domain.RelationMessages,
		Filter:   &domain.ColumnFilter{Column: "room_id", Value: roomID},
		Types:    []domain.ChangeType{domain.ChangeInsert},
	}
	sub, err := s.feed.Open(ctx, query, func(ctx context.Context, ev domain.ChangeEvent) {
		s.reconcile(ctx, token, ev)
	})
	if err != nil {
		return s.failLoad(token, err)
	}
	if !s.attach(token, sub) {
		_ = sub.Close()
		return domain.ErrViewClosed
	}

	var (
		room *domain.Room
		msgs []domain.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.rooms.Get(gctx, roomID)
		if err != nil {
			return fmt.Errorf("load room: %w", err)
		}
		room = r
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		m, err := s.messages.ListByRoom(gctx, roomID)
		s.metrics.RefetchObserved(string(domain.RelationMessages), time.Since(start))
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		msgs = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return s.failLoad(token, err)
	}

	s.mu.Lock()
	if !s.liveLocked(token) {
		s.mu.Unlock()
		s.log.Debug().Str("room_id", roomID).Msg("discarding initial messages for closed view")
		return domain.ErrViewClosed
	}
	s.room = room
	for _, m := range msgs {
		s.items.Merge(m)
	}
	s.loaded = true
	s.mu.Unlock()
	s.changes.notify()

	s.log.Debug().Str("room_id", roomID).Int("messages", len(msgs)).Msg("message stream opened")
	return nil
}

func (s *MessageStream) liveLocked(token uint64) bool {
	return s.open && s.generation == token
}

func (s *MessageStream) attach(token uint64, sub *Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(token) {
		return false
	}
	s.sub = sub
	return true
}

func (s *MessageStream) failLoad(token uint64, err error) error {
	s.mu.Lock()
	if !s.liveLocked(token) {
		s.mu.Unlock()
		return domain.ErrViewClosed
	}
	s.loadErr = domain.Reject("Failed to load chat data", err)
	loadErr := s.loadErr
	roomID := s.roomID
	s.mu.Unlock()
	s.changes.notify()

	s.log.Error().Err(err).Str("room_id", roomID).Msg("message stream load failed")
	return loadErr
}

// reconcile refetches the inserted message with its author and merges it.
func (s *MessageStream) reconcile(ctx context.Context, token uint64, ev domain.ChangeEvent) {
	if ev.Type != domain.ChangeInsert {
		return
	}

	s.mu.Lock()
	if !s.liveLocked(token) {
		s.mu.Unlock()
		return
	}
	if s.items.Contains(ev.RecordID) {
		s.mu.Unlock()
		s.metrics.DuplicateDiscarded(string(domain.RelationMessages))
		return
	}
	s.mu.Unlock()

	start := time.Now()
	msg, err := s.messages.GetWithAuthor(ctx, ev.RecordID)
	s.metrics.RefetchObserved(string(domain.RelationMessages), time.Since(start))
	if err != nil {
		s.metrics.ReconcileDropped(string(domain.RelationMessages), "refetch_failed")
		s.log.Warn().Err(err).Str("message_id", ev.RecordID).Msg("message refetch failed, event dropped")
		return
	}

	s.mu.Lock()
	if !s.liveLocked(token) {
		s.mu.Unlock()
		s.metrics.ReconcileDropped(string(domain.RelationMessages), "stale")
		return
	}
	if msg.RoomID != s.roomID {
		s.mu.Unlock()
		s.metrics.ReconcileDropped(string(domain.RelationMessages), "foreign_room")
		return
	}
	added := s.items.Merge(*msg)
	s.mu.Unlock()

	if !added {
		s.metrics.DuplicateDiscarded(string(domain.RelationMessages))
		return
	}
	s.changes.notify()
}

// Send posts content to the open room. The message is not added locally; it
// appears once its insert event comes back through the feed.
func (s *MessageStream) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.ErrEmptyMessage
	}

	s.mu.Lock()
	open, roomID := s.open, s.roomID
	s.mu.Unlock()
	if !open {
		return domain.ErrNoRoomOpen
	}

	id, err := s.session.Identity()
	if err != nil {
		return err
	}

	if _, err := s.messages.Insert(ctx, domain.NewMessage{RoomID: roomID, UserID: id.ID, Content: content}); err != nil {
		return domain.Reject("Failed to send message", err)
	}
	return nil
}

// Close tears the view down. It is safe to call on a closed view.
func (s *MessageStream) Close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.generation++
	sub := s.sub
	roomID := s.roomID
	s.sub = nil
	s.roomID = ""
	s.room = nil
	s.items = nil
	s.loaded = false
	s.loadErr = nil
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			s.log.Warn().Err(err).Str("room_id", roomID).Uint64("generation", sub.Generation()).Msg("closing messages subscription")
		}
	}
	s.changes.notify()
}

// IsOpen reports whether a room is open.
func (s *MessageStream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Messages returns the messages in creation order.
func (s *MessageStream) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		return nil
	}
	return s.items.Items()
}

// Snapshot returns the renderable state.
func (s *MessageStream) Snapshot() StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StreamSnapshot{
		Open:     s.open,
		Loading:  s.open && !s.loaded && s.loadErr == nil,
		RoomID:   s.roomID,
		Messages: []domain.Message{},
	}
	if s.room != nil {
		snap.RoomName = s.room.Name
	}
	if s.loadErr != nil {
		snap.Error = domain.UserMessage(s.loadErr)
	}
	if s.items != nil {
		snap.Messages = s.items.Items()
	}
	return snap
}

// Watch returns a channel signalled after every state change.
func (s *MessageStream) Watch() (<-chan struct{}, func()) {
	return s.changes.watch()
}
