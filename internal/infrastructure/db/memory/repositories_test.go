package memory

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomsync/chat-client/internal/core/domain"
)

func receive(t *testing.T, ch <-chan domain.ChangeEvent) domain.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.ChangeEvent{}
}

func TestFeed_FiltersByQuery(t *testing.T) {
	store := NewStore(zerolog.Nop())
	rooms := NewRoomRepository(store)
	messages := NewMessageRepository(store)
	ctx := context.Background()

	r1, _ := rooms.Create(ctx, domain.NewRoom{Name: "one", CreatedBy: "u1"})
	r2, _ := rooms.Create(ctx, domain.NewRoom{Name: "two", CreatedBy: "u1"})

	sub, err := store.Feed().Subscribe(ctx, domain.FeedQuery{
		Relation: domain.RelationMessages,
		Filter:   &domain.ColumnFilter{Column: "room_id", Value: r1.ID},
		Types:    []domain.ChangeType{domain.ChangeInsert},
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := messages.Insert(ctx, domain.NewMessage{RoomID: r2.ID, UserID: "u1", Content: "elsewhere"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	m, err := messages.Insert(ctx, domain.NewMessage{RoomID: r1.ID, UserID: "u1", Content: "here"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	ev := receive(t, sub.Events())
	if ev.RecordID != m.ID || ev.Type != domain.ChangeInsert {
		t.Fatalf("expected insert of %s, got %+v", m.ID, ev)
	}
	if v, _ := ev.Column("room_id"); v != r1.ID {
		t.Errorf("expected room_id column, got %q", v)
	}
}

func TestFeed_CloseEndsEvents(t *testing.T) {
	store := NewStore(zerolog.Nop())
	sub, err := store.Feed().Subscribe(context.Background(), domain.FeedQuery{Relation: domain.RelationRooms})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = sub.Close()

	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after close must not block or panic.
	if _, err := NewRoomRepository(store).Create(context.Background(), domain.NewRoom{Name: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestFeed_RejectsSubscribeAfterClose(t *testing.T) {
	store := NewStore(zerolog.Nop())
	store.Feed().Close()
	if _, err := store.Feed().Subscribe(context.Background(), domain.FeedQuery{Relation: domain.RelationRooms}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRepositories_Ordering(t *testing.T) {
	store := NewStore(zerolog.Nop())
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return tick }
	rooms := NewRoomRepository(store)
	messages := NewMessageRepository(store)
	profiles := NewProfileRepository(store)
	ctx := context.Background()

	a, _ := rooms.Create(ctx, domain.NewRoom{Name: "a", CreatedBy: "u1"})
	b, _ := rooms.Create(ctx, domain.NewRoom{Name: "b", CreatedBy: "u1"})
	list, _ := rooms.List(ctx)
	if len(list) != 2 || list[0].ID != b.ID || list[1].ID != a.ID {
		t.Fatalf("expected newest first with insertion tiebreak, got %+v", list)
	}

	_ = profiles.Upsert(ctx, &domain.Profile{ID: "u1", Username: "alice"})
	m1, _ := messages.Insert(ctx, domain.NewMessage{RoomID: a.ID, UserID: "u1", Content: "1"})
	m2, _ := messages.Insert(ctx, domain.NewMessage{RoomID: a.ID, UserID: "ghost", Content: "2"})
	msgs, _ := messages.ListByRoom(ctx, a.ID)
	if len(msgs) != 2 || msgs[0].ID != m1.ID || msgs[1].ID != m2.ID {
		t.Fatalf("expected oldest first, got %+v", msgs)
	}
	if msgs[0].AuthorName() != "alice" || msgs[1].AuthorName() != domain.UnknownAuthor {
		t.Errorf("unexpected authors %q, %q", msgs[0].AuthorName(), msgs[1].AuthorName())
	}
}

func TestRoomRepository_DeleteRequiresCreator(t *testing.T) {
	store := NewStore(zerolog.Nop())
	rooms := NewRoomRepository(store)
	messages := NewMessageRepository(store)
	ctx := context.Background()

	r, _ := rooms.Create(ctx, domain.NewRoom{Name: "a", CreatedBy: "u1"})
	_, _ = messages.Insert(ctx, domain.NewMessage{RoomID: r.ID, UserID: "u1", Content: "hi"})

	if err := rooms.DeleteWithMessages(ctx, r.ID, "u2"); err != domain.ErrRoomNotFound {
		t.Fatalf("expected not found for non-creator, got %v", err)
	}
	if err := rooms.DeleteWithMessages(ctx, r.ID, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if msgs, _ := messages.ListByRoom(ctx, r.ID); len(msgs) != 0 {
		t.Errorf("expected messages removed with the room")
	}
	if _, err := messages.Insert(ctx, domain.NewMessage{RoomID: r.ID, UserID: "u1", Content: "late"}); err != domain.ErrRoomNotFound {
		t.Errorf("expected insert into deleted room to fail, got %v", err)
	}
}
