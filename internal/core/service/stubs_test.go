package service

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Change feed
// ---------------------------------------------------------------------------

type stubFeed struct {
	mu           sync.Mutex
	subscribeErr error
	queries      []domain.FeedQuery
	subs         []*stubFeedSub
}

func (f *stubFeed) Subscribe(_ context.Context, q domain.FeedQuery) (ports.FeedSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.queries = append(f.queries, q)
	sub := &stubFeedSub{events: make(chan domain.ChangeEvent, 32)}
	f.subs = append(f.subs, sub)
	return sub, nil
}

// emit delivers ev to every open subscription.
func (f *stubFeed) emit(ev domain.ChangeEvent) {
	f.mu.Lock()
	subs := slices.Clone(f.subs)
	f.mu.Unlock()
	for _, s := range subs {
		s.send(ev)
	}
}

func (f *stubFeed) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

type stubFeedSub struct {
	mu     sync.Mutex
	events chan domain.ChangeEvent
	closed bool
}

func (s *stubFeedSub) Events() <-chan domain.ChangeEvent { return s.events }

func (s *stubFeedSub) send(ev domain.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- ev
	}
}

func (s *stubFeedSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *stubFeedSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func messageInsert(id, roomID string) domain.ChangeEvent {
	return domain.ChangeEvent{
		Relation: domain.RelationMessages,
		Type:     domain.ChangeInsert,
		RecordID: id,
		Record:   map[string]any{"id": id, "room_id": roomID},
	}
}

func roomEvent(t domain.ChangeType, id string) domain.ChangeEvent {
	return domain.ChangeEvent{Relation: domain.RelationRooms, Type: t, RecordID: id, Record: map[string]any{"id": id}}
}

// ---------------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------------

type stubRoomRepo struct {
	mu        sync.Mutex
	rooms     map[string]domain.Room
	listErr   error
	getErr    error
	createErr error
	deleteErr error
	listGate  chan struct{} // when set, List blocks until it is closed
	getGate   chan struct{} // when set, Get blocks until it is closed

	listCalls   int
	getCalls    int
	createCalls int
	deleteCalls int
	created     []domain.NewRoom
}

func newStubRoomRepo(rooms ...domain.Room) *stubRoomRepo {
	r := &stubRoomRepo{rooms: make(map[string]domain.Room)}
	for _, room := range rooms {
		r.rooms[room.ID] = room
	}
	return r
}

func (r *stubRoomRepo) List(ctx context.Context) ([]domain.Room, error) {
	r.mu.Lock()
	r.listCalls++
	gate := r.listGate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *stubRoomRepo) Get(ctx context.Context, id string) (*domain.Room, error) {
	r.mu.Lock()
	r.getCalls++
	gate := r.getGate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	room, ok := r.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return &room, nil
}

func (r *stubRoomRepo) Create(_ context.Context, in domain.NewRoom) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	r.created = append(r.created, in)
	if r.createErr != nil {
		return nil, r.createErr
	}
	room := domain.Room{
		ID:        "room-" + in.Name,
		Name:      in.Name,
		CreatedBy: in.CreatedBy,
		CreatedAt: time.Now().UTC(),
		Secret:    in.Secret,
	}
	r.rooms[room.ID] = room
	return &room, nil
}

func (r *stubRoomRepo) Delete(_ context.Context, id, createdBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls++
	if r.deleteErr != nil {
		return r.deleteErr
	}
	room, ok := r.rooms[id]
	if !ok || room.CreatedBy != createdBy {
		return domain.ErrRoomNotFound
	}
	delete(r.rooms, id)
	return nil
}

func (r *stubRoomRepo) put(room domain.Room) {
	r.mu.Lock()
	r.rooms[room.ID] = room
	r.mu.Unlock()
}

func (r *stubRoomRepo) calls() (list, create, del int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls, r.createCalls, r.deleteCalls
}

// cascadeRoomRepo adds the atomic delete capability.
type cascadeRoomRepo struct {
	*stubRoomRepo
	cascadeCalls int
}

func (r *cascadeRoomRepo) DeleteWithMessages(ctx context.Context, id, createdBy string) error {
	r.mu.Lock()
	r.cascadeCalls++
	r.mu.Unlock()
	return r.stubRoomRepo.Delete(ctx, id, createdBy)
}

type stubMessageRepo struct {
	mu        sync.Mutex
	byID      map[string]domain.Message
	listErr   error
	getErr    error
	insertErr error
	deleteErr error
	listGate  chan struct{}

	getCalls          int
	inserted          []domain.NewMessage
	deleteByRoomCalls int
}

func newStubMessageRepo(msgs ...domain.Message) *stubMessageRepo {
	r := &stubMessageRepo{byID: make(map[string]domain.Message)}
	for _, m := range msgs {
		r.byID[m.ID] = m
	}
	return r
}

func (r *stubMessageRepo) ListByRoom(ctx context.Context, roomID string) ([]domain.Message, error) {
	r.mu.Lock()
	gate := r.listGate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.Message
	for _, m := range r.byID {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *stubMessageRepo) GetWithAuthor(_ context.Context, id string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if r.getErr != nil {
		return nil, r.getErr
	}
	m, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return &m, nil
}

func (r *stubMessageRepo) Insert(_ context.Context, in domain.NewMessage) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, in)
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	m := domain.Message{ID: "msg-inserted", RoomID: in.RoomID, UserID: in.UserID, Content: in.Content, CreatedAt: time.Now()}
	return &m, nil
}

func (r *stubMessageRepo) DeleteByRoom(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteByRoomCalls++
	if r.deleteErr != nil {
		return r.deleteErr
	}
	for id, m := range r.byID {
		if m.RoomID == roomID {
			delete(r.byID, id)
		}
	}
	return nil
}

func (r *stubMessageRepo) put(m domain.Message) {
	r.mu.Lock()
	r.byID[m.ID] = m
	r.mu.Unlock()
}

func (r *stubMessageRepo) gets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls
}

type stubProfileRepo struct {
	mu        sync.Mutex
	profiles  map[string]domain.Profile
	getErr    error
	upsertErr error
	upserts   []domain.Profile
}

func newStubProfileRepo() *stubProfileRepo {
	return &stubProfileRepo{profiles: make(map[string]domain.Profile)}
}

func (r *stubProfileRepo) Get(_ context.Context, id string) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	p, ok := r.profiles[id]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &p, nil
}

func (r *stubProfileRepo) Upsert(_ context.Context, p *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, *p)
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.profiles[p.ID] = *p
	return nil
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

type stubAuth struct {
	mu         sync.Mutex
	current    *domain.Session
	currentErr error
	signUpErr  error
	signInErr  error
	signOutErr error
	accounts   map[string]string // email -> id
	signUps    []string
	listeners  map[int]func(domain.SessionChange)
	nextID     int
}

func newStubAuth() *stubAuth {
	return &stubAuth{accounts: make(map[string]string), listeners: make(map[int]func(domain.SessionChange))}
}

func (a *stubAuth) SignUp(_ context.Context, email, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signUps = append(a.signUps, email)
	if a.signUpErr != nil {
		return a.signUpErr
	}
	a.accounts[email] = "user-" + domain.DefaultUsername(email)
	return nil
}

func (a *stubAuth) SignIn(_ context.Context, email, _ string) (*domain.Session, error) {
	a.mu.Lock()
	if a.signInErr != nil {
		a.mu.Unlock()
		return nil, a.signInErr
	}
	id, ok := a.accounts[email]
	if !ok {
		a.mu.Unlock()
		return nil, domain.ErrInvalidCredentials
	}
	s := &domain.Session{Identity: domain.Identity{ID: id, Email: email}, AccessToken: "token"}
	a.current = s
	a.mu.Unlock()
	a.emit(domain.SessionChange{Event: domain.EventSignedIn, Session: s})
	return s, nil
}

func (a *stubAuth) SignOut(context.Context) error {
	a.mu.Lock()
	if a.signOutErr != nil {
		a.mu.Unlock()
		return a.signOutErr
	}
	a.current = nil
	a.mu.Unlock()
	a.emit(domain.SessionChange{Event: domain.EventSignedOut})
	return nil
}

func (a *stubAuth) CurrentSession(context.Context) (*domain.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.currentErr
}

func (a *stubAuth) OnSessionChange(fn func(domain.SessionChange)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *stubAuth) emit(ch domain.SessionChange) {
	a.mu.Lock()
	fns := make([]func(domain.SessionChange), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

func (a *stubAuth) listenerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

type stubIdentity struct {
	id *domain.Identity
}

func (s stubIdentity) Identity() (domain.Identity, error) {
	if s.id == nil {
		return domain.Identity{}, domain.ErrNotAuthenticated
	}
	return *s.id, nil
}

func signedIn(id string) stubIdentity {
	return stubIdentity{id: &domain.Identity{ID: id, Email: id + "@example.com"}}
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

type countingMetrics struct {
	ports.NopMetrics
	mu         sync.Mutex
	duplicates int
	dropped    map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{dropped: make(map[string]int)}
}

func (m *countingMetrics) DuplicateDiscarded(string) {
	m.mu.Lock()
	m.duplicates++
	m.mu.Unlock()
}

func (m *countingMetrics) ReconcileDropped(_, reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) duplicateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duplicates
}

func (m *countingMetrics) droppedCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var errBackend = errors.New("backend unavailable")

func nopLog() zerolog.Logger { return zerolog.Nop() }

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func at(sec int) time.Time {
	return time.Date(2024, 1, 1, 12, 0, sec, 0, time.UTC)
}
