package service

import (
	"context"
	"errors"
	"testing"

	"github.com/roomsync/chat-client/internal/core/domain"
)

type streamFixture struct {
	feed     *stubFeed
	rooms    *stubRoomRepo
	messages *stubMessageRepo
	metrics  *countingMetrics
	stream   *MessageStream
}

func newStreamFixture(identity IdentitySource) *streamFixture {
	f := &streamFixture{
		feed:     &stubFeed{},
		rooms:    newStubRoomRepo(domain.Room{ID: "r1", Name: "general", CreatedAt: at(0)}),
		messages: newStubMessageRepo(),
		metrics:  newCountingMetrics(),
	}
	sub := NewSubscriber(f.feed, nil, f.metrics, nopLog())
	f.stream = NewMessageStream(identity, f.rooms, f.messages, sub, f.metrics, nopLog())
	return f
}

func alice() *domain.Profile {
	return &domain.Profile{ID: "u1", Username: "alice"}
}

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

func TestMessageStream_OpenLoadsRoomAndMessages(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	f.messages.put(domain.Message{ID: "m2", RoomID: "r1", CreatedAt: at(2), Author: alice()})
	f.messages.put(domain.Message{ID: "m1", RoomID: "r1", CreatedAt: at(1), Author: alice()})
	f.messages.put(domain.Message{ID: "x", RoomID: "r2", CreatedAt: at(1)})

	if err := f.stream.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.stream.Close()

	q := f.feed.queries[0]
	if q.Relation != domain.RelationMessages || q.Filter == nil || q.Filter.String() != "room_id=eq.r1" {
		t.Fatalf("unexpected subscription %+v", q)
	}
	if len(q.Types) != 1 || q.Types[0] != domain.ChangeInsert {
		t.Fatalf("expected insert-only subscription, got %v", q.Types)
	}

	snap := f.stream.Snapshot()
	if snap.RoomName != "general" || snap.Loading || snap.Error != "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	equalIDs(t, snap.Messages, "m1", "m2")
}

func TestMessageStream_OpenFailure(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	f.messages.listErr = errBackend

	err := f.stream.Open(context.Background(), "r1")
	if domain.UserMessage(err) != "Failed to load chat data" {
		t.Fatalf("expected 'Failed to load chat data', got %v", err)
	}
	if snap := f.stream.Snapshot(); snap.Error != "Failed to load chat data" {
		t.Errorf("expected visible error, got %+v", snap)
	}
	f.stream.Close()
}

func TestMessageStream_OpenUnknownRoom(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	err := f.stream.Open(context.Background(), "nope")
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
	f.stream.Close()
}

func TestMessageStream_CloseBeforeInitialFetchResolves(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	f.messages.put(domain.Message{ID: "m1", RoomID: "r1", CreatedAt: at(1)})
	gate := make(chan struct{})
	f.messages.listGate = gate

	errc := make(chan error, 1)
	go func() { errc <- f.stream.Open(context.Background(), "r1") }()

	waitFor(t, "subscription", func() bool { return f.feed.openCount() == 1 })
	f.stream.Close()
	close(gate)

	if err := <-errc; !errors.Is(err, domain.ErrViewClosed) {
		t.Fatalf("expected ErrViewClosed, got %v", err)
	}
	snap := f.stream.Snapshot()
	if snap.Open || len(snap.Messages) != 0 || snap.RoomName != "" {
		t.Fatalf("late fetch applied to closed view: %+v", snap)
	}

	// A fresh open afterwards is unaffected by the stale one.
	f.messages.listGate = nil
	if err := f.stream.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.stream.Close()
	equalIDs(t, f.stream.Messages(), "m1")
}

func TestMessageStream_EventDuringInitialFetchIsKept(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	f.messages.put(domain.Message{ID: "m1", RoomID: "r1", CreatedAt: at(1)})
	gate := make(chan struct{})
	f.messages.listGate = gate

	errc := make(chan error, 1)
	go func() { errc <- f.stream.Open(context.Background(), "r1") }()
	waitFor(t, "subscription", func() bool { return f.feed.openCount() == 1 })

	// m2 is committed after the subscription but is also part of the fetch.
	f.messages.put(domain.Message{ID: "m2", RoomID: "r1", CreatedAt: at(2)})
	f.feed.emit(messageInsert("m2", "r1"))
	waitFor(t, "refetch", func() bool { return f.messages.gets() == 1 })

	close(gate)
	if err := <-errc; err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.stream.Close()

	equalIDs(t, f.stream.Messages(), "m1", "m2")
}

// ---------------------------------------------------------------------------
// Reconciliation
// ---------------------------------------------------------------------------

func TestMessageStream_InsertEventRefetchesWithAuthor(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	if err := f.stream.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.stream.Close()

	changes, stop := f.stream.Watch()
	defer stop()

	f.messages.put(domain.Message{ID: "m1", RoomID: "r1", Content: "hi", CreatedAt: at(1), Author: alice()})
	f.feed.emit(messageInsert("m1", "r1"))

	<-changes
	msgs := f.stream.Messages()
	if len(msgs) != 1 || msgs[0].AuthorName() != "alice" || msgs[0].Content != "hi" {
		t.Fatalf("expected refetched message with author, got %+v", msgs)
	}
}

func TestMessageStream_DuplicateInsertAppearsOnce(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	f.messages.put(domain.Message{ID: "m1", RoomID: "r1", CreatedAt: at(1)})
	f.messages.put(domain.Message{ID: "m3", RoomID: "r1", CreatedAt: at(3)})
	if err := f.stream.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.stream.Close()

	f.messages.put(domain.Message{ID: "m2", RoomID: "r1", CreatedAt: at(2)})
	f.feed.emit(messageInsert("m2", "r1"))
	f.feed.emit(messageInsert("m2", "r1"))

	waitFor(t, "duplicate discarded", func() bool { return f.metrics.duplicateCount() == 1 })
	equalIDs(t, f.stream.Messages(), "m1", "m2", "m3")
}

func TestMessageStream_ReorderedAndRepeatedEvents(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	if err := f.stream.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.stream.Close()

	for i, id := range []string{"a", "b", "c"} {
		f.messages.put(domain.Message{ID: id, RoomID: "r1", CreatedAt: at(i + 1)})
	}
	for _, id := range []string{"c", "a", "c", "b", "a", "b"} {
		f.feed.emit(messageInsert(id, "r1"))
	}

	waitFor(t, "three duplicates", func() bool { return f.metrics.duplicateCount() == 3 })
	equalIDs(t, f.stream.Messages(), "a", "b", "c")
}

func TestMessageStream_RefetchFailureIsDropped(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	if err := f.stream.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.stream.Close()

	f.feed.emit(messageInsert("ghost", "r1"))

	waitFor(t, "dropped refetch", func() bool { return f.metrics.droppedCount("refetch_failed") == 1 })
	snap := f.stream.Snapshot()
	if snap.Error != "" || len(snap.Messages) != 0 {
		t.Errorf("refetch failure must stay silent, got %+v", snap)
	}
}

func TestMessageStream_ForeignRoomMessageIgnored(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	if err := f.stream.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.stream.Close()

	// The event claims r1 but the refetched row lives in r2.
	f.messages.put(domain.Message{ID: "moved", RoomID: "r2", CreatedAt: at(1)})
	f.feed.emit(messageInsert("moved", "r1"))

	waitFor(t, "foreign row dropped", func() bool { return f.metrics.droppedCount("foreign_room") == 1 })
	if len(f.stream.Messages()) != 0 {
		t.Errorf("expected no messages")
	}
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestMessageStream_SendDoesNotRenderOptimistically(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	if err := f.stream.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.stream.Close()

	if err := f.stream.Send(context.Background(), "  hello  "); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := f.messages.inserted[0]
	if got.Content != "hello" || got.RoomID != "r1" || got.UserID != "u1" {
		t.Errorf("unexpected insert payload %+v", got)
	}
	if len(f.stream.Messages()) != 0 {
		t.Errorf("sent message must only appear via the feed")
	}
}

func TestMessageStream_SendValidation(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))

	if err := f.stream.Send(context.Background(), "   "); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Errorf("expected empty message, got %v", err)
	}
	if err := f.stream.Send(context.Background(), "hi"); !errors.Is(err, domain.ErrNoRoomOpen) {
		t.Errorf("expected no room open, got %v", err)
	}
	if len(f.messages.inserted) != 0 {
		t.Errorf("expected no insert")
	}
}

func TestMessageStream_SendFailure(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	if err := f.stream.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.stream.Close()
	f.messages.insertErr = errBackend

	err := f.stream.Send(context.Background(), "hello")
	if domain.UserMessage(err) != "Failed to send message" {
		t.Fatalf("expected 'Failed to send message', got %v", err)
	}
}

func TestMessageStream_CloseIsIdempotent(t *testing.T) {
	f := newStreamFixture(signedIn("u1"))
	if err := f.stream.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	f.stream.Close()
	f.stream.Close()

	if f.stream.IsOpen() || f.feed.openCount() != 0 {
		t.Fatalf("expected closed view and subscription")
	}
	if err := f.stream.Open(context.Background(), "r1"); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	f.stream.Close()
}
