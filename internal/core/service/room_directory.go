package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/ports"
)

// IdentitySource yields the acting identity. *SessionStore satisfies it.
type IdentitySource interface {
	Identity() (domain.Identity, error)
}

// DirectorySnapshot is the renderable state of the room list view.
type DirectorySnapshot struct {
	Open     bool          `json:"open"`
	Loading  bool          `json:"loading"`
	Creating bool          `json:"creating"`
	Error    string        `json:"error,omitempty"`
	Rooms    []domain.Room `json:"rooms"`
}

// RoomDirectory maintains the room list view and the room verbs.
type RoomDirectory struct {
	session  IdentitySource
	rooms    ports.RoomRepository
	messages ports.MessageRepository
	feed     *Subscriber
	metrics  ports.SyncMetrics
	log      zerolog.Logger

	mu         sync.Mutex
	generation uint64
	open       bool
	sub        *Subscription
	list       *OrderedSet[domain.Room]
	loaded     bool
	loadErr    error
	fetchSeq   uint64
	appliedSeq uint64

	creating atomic.Bool
	lookups  singleflight.Group
	changes  notifier
}

// NewRoomDirectory returns a closed RoomDirectory.
func NewRoomDirectory(
	session IdentitySource,
	rooms ports.RoomRepository,
	messages ports.MessageRepository,
	feed *Subscriber,
	metrics ports.SyncMetrics,
	log zerolog.Logger,
) *RoomDirectory {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &RoomDirectory{
		session:  session,
		rooms:    rooms,
		messages: messages,
		feed:     feed,
		metrics:  metrics,
		log:      log,
	}
}

type roomFetch struct {
	seq   uint64
	rooms []domain.Room
}

// Open subscribes to the rooms relation and then loads the list. A failed
// load leaves the view open with its error set; it is not retried.
func (d *RoomDirectory) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.open {
		d.mu.Unlock()
		return domain.ErrViewOpen
	}
	d.generation++
	token := d.generation
	d.open = true
	d.list = newRoomSet()
	d.loaded = false
	d.loadErr = nil
	d.mu.Unlock()
	d.changes.notify()

	query := domain.FeedQuery{Relation: domain.RelationRooms}
	sub, err := d.feed.Open(ctx, query, func(ctx context.Context, ev domain.ChangeEvent) {
		d.reconcile(ctx, token, ev)
	})
	if err != nil {
		return d.failLoad(token, err)
	}
	if !d.attach(token, sub) {
		_ = sub.Close()
		return domain.ErrViewClosed
	}

	res, err := d.fetch(ctx)
	if err != nil {
		return d.failLoad(token, err)
	}
	if !d.apply(token, res) {
		return domain.ErrViewClosed
	}
	return nil
}

func (d *RoomDirectory) liveLocked(token uint64) bool {
	return d.open && d.generation == token
}

func (d *RoomDirectory) attach(token uint64, sub *Subscription) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.liveLocked(token) {
		return false
	}
	d.sub = sub
	return true
}

func (d *RoomDirectory) failLoad(token uint64, err error) error {
	d.mu.Lock()
	if !d.liveLocked(token) {
		d.mu.Unlock()
		return domain.ErrViewClosed
	}
	d.loadErr = domain.Reject("Error loading rooms", err)
	loadErr := d.loadErr
	d.mu.Unlock()
	d.changes.notify()

	d.log.Error().Err(err).Msg("room list load failed")
	return loadErr
}

func (d *RoomDirectory) fetch(ctx context.Context) (roomFetch, error) {
	d.mu.Lock()
	d.fetchSeq++
	seq := d.fetchSeq
	d.mu.Unlock()

	start := time.Now()
	rooms, err := d.rooms.List(ctx)
	d.metrics.RefetchObserved(string(domain.RelationRooms), time.Since(start))
	if err != nil {
		return roomFetch{}, fmt.Errorf("list rooms: %w", err)
	}
	return roomFetch{seq: seq, rooms: rooms}, nil
}

// apply replaces the list with res unless the view moved on. A result older
// than the last applied one is ignored. It reports whether the view is still
// the one that issued the fetch.
func (d *RoomDirectory) apply(token uint64, res roomFetch) bool {
	d.mu.Lock()
	if !d.liveLocked(token) {
		d.mu.Unlock()
		return false
	}
	if res.seq <= d.appliedSeq {
		d.mu.Unlock()
		d.log.Debug().Uint64("seq", res.seq).Msg("discarding out-of-date room list")
		return true
	}
	d.appliedSeq = res.seq
	d.list.Reset()
	for _, r := range res.rooms {
		d.list.Merge(r)
	}
	d.loaded = true
	d.loadErr = nil
	d.mu.Unlock()

	d.changes.notify()
	return true
}

// reconcile refetches the whole list on any rooms event. Events of one
// subscription arrive one at a time, so every event gets its own fetch issued
// after the change it reports.
func (d *RoomDirectory) reconcile(ctx context.Context, token uint64, ev domain.ChangeEvent) {
	d.mu.Lock()
	live := d.liveLocked(token)
	d.mu.Unlock()
	if !live {
		return
	}

	res, err := d.fetch(ctx)
	if err != nil {
		d.metrics.ReconcileDropped(string(domain.RelationRooms), "refetch_failed")
		d.log.Warn().Err(err).
			Str("event", string(ev.Type)).
			Str("room_id", ev.RecordID).
			Msg("room list refetch failed, event dropped")
		return
	}
	if !d.apply(token, res) {
		d.metrics.ReconcileDropped(string(domain.RelationRooms), "stale")
	}
}

// Close tears the view down. It is safe to call on a closed view.
func (d *RoomDirectory) Close() {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return
	}
	d.open = false
	d.generation++
	sub := d.sub
	d.sub = nil
	d.list = nil
	d.loaded = false
	d.loadErr = nil
	d.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			d.log.Warn().Err(err).Uint64("generation", sub.Generation()).Msg("closing rooms subscription")
		}
	}
	d.changes.notify()
}

// IsOpen reports whether the view is open.
func (d *RoomDirectory) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Failed reports whether the open view's initial load failed.
func (d *RoomDirectory) Failed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open && d.loadErr != nil
}

// Rooms returns the rooms ordered newest first.
func (d *RoomDirectory) Rooms() []domain.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.list == nil {
		return nil
	}
	return d.list.Items()
}

// Creating reports whether a create request is in flight.
func (d *RoomDirectory) Creating() bool {
	return d.creating.Load()
}

// Snapshot returns the renderable state.
func (d *RoomDirectory) Snapshot() DirectorySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := DirectorySnapshot{
		Open:     d.open,
		Loading:  d.open && !d.loaded && d.loadErr == nil,
		Creating: d.creating.Load(),
		Rooms:    []domain.Room{},
	}
	if d.loadErr != nil {
		snap.Error = domain.UserMessage(d.loadErr)
	}
	if d.list != nil {
		snap.Rooms = d.list.Items()
	}
	return snap
}

// Watch returns a channel signalled after every state change.
func (d *RoomDirectory) Watch() (<-chan struct{}, func()) {
	return d.changes.watch()
}

// Create requests a new room. The room shows up in the list through the
// change feed, not through this call.
func (d *RoomDirectory) Create(ctx context.Context, name, secret string) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrEmptyRoomName
	}
	id, err := d.session.Identity()
	if err != nil {
		return nil, err
	}
	if !d.creating.CompareAndSwap(false, true) {
		return nil, domain.ErrRequestPending
	}
	d.changes.notify()
	defer func() {
		d.creating.Store(false)
		d.changes.notify()
	}()

	room, err := d.rooms.Create(ctx, domain.NewRoom{Name: name, CreatedBy: id.ID, Secret: secret})
	if err != nil {
		return nil, domain.Reject("Error creating room", err)
	}
	d.log.Info().Str("room_id", room.ID).Bool("gated", room.Gated()).Msg("room created")
	return room, nil
}

// Delete removes a room and its messages. Only the creator may delete.
func (d *RoomDirectory) Delete(ctx context.Context, roomID string) error {
	id, err := d.session.Identity()
	if err != nil {
		return err
	}
	room, err := d.lookup(ctx, roomID, "Error deleting room")
	if err != nil {
		return err
	}
	if room.CreatedBy != id.ID {
		return domain.ErrNotRoomCreator
	}

	if cascade, ok := d.rooms.(ports.RoomCascadeDeleter); ok {
		if err := cascade.DeleteWithMessages(ctx, room.ID, id.ID); err != nil {
			return domain.Reject("Error deleting room", err)
		}
		d.log.Info().Str("room_id", room.ID).Msg("room deleted")
		return nil
	}

	if err := d.messages.DeleteByRoom(ctx, room.ID); err != nil {
		return domain.Reject("Error deleting room", err)
	}
	if err := d.rooms.Delete(ctx, room.ID, id.ID); err != nil {
		d.log.Warn().Err(err).Str("room_id", room.ID).Msg("room messages deleted but room deletion failed")
		return domain.Reject("Error deleting room", err)
	}
	d.log.Info().Str("room_id", room.ID).Msg("room deleted")
	return nil
}

// Join checks the supplied secret against the room and returns the room to
// navigate into.
func (d *RoomDirectory) Join(ctx context.Context, roomID, secret string) (*domain.Room, error) {
	room, err := d.lookup(ctx, roomID, "Error joining room")
	if err != nil {
		return nil, err
	}
	if !room.Admits(secret) {
		return nil, domain.ErrIncorrectPassword
	}
	return room, nil
}

// lookup finds a room in the loaded list, falling back to the backend.
// Concurrent fallbacks for the same room share one backend read.
func (d *RoomDirectory) lookup(ctx context.Context, roomID, failure string) (*domain.Room, error) {
	d.mu.Lock()
	if d.list != nil {
		if r, ok := d.list.Find(roomID); ok {
			d.mu.Unlock()
			return &r, nil
		}
	}
	d.mu.Unlock()

	// The read is shared, so one caller's cancellation must not fail the rest.
	shared := context.WithoutCancel(ctx)
	v, err, _ := d.lookups.Do(roomID, func() (any, error) {
		return d.rooms.Get(shared, roomID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, err
		}
		return nil, domain.Reject(failure, err)
	}
	room := *v.(*domain.Room)
	return &room, nil
}
