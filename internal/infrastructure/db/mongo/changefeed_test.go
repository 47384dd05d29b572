package mongo

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roomsync/chat-client/internal/core/domain"
)

func matchOf(t *testing.T, q domain.FeedQuery) bson.D {
	t.Helper()
	p := changePipeline(q)
	if len(p) != 1 || p[0][0].Key != "$match" {
		t.Fatalf("expected a single $match stage, got %v", p)
	}
	return p[0][0].Value.(bson.D)
}

func TestChangePipeline_RoomInserts(t *testing.T) {
	m := matchOf(t, domain.FeedQuery{
		Relation: domain.RelationMessages,
		Filter:   &domain.ColumnFilter{Column: "room_id", Value: "r1"},
		Types:    []domain.ChangeType{domain.ChangeInsert},
	})
	if len(m) != 2 {
		t.Fatalf("expected operationType and filter, got %v", m)
	}
	ops := m[0].Value.(bson.M)["$in"].(bson.A)
	if len(ops) != 1 || ops[0] != "insert" {
		t.Errorf("unexpected operation types %v", ops)
	}
	if m[1].Key != "fullDocument.room_id" || m[1].Value != "r1" {
		t.Errorf("unexpected filter %v", m[1])
	}
}

func TestChangePipeline_AllTypes(t *testing.T) {
	m := matchOf(t, domain.FeedQuery{Relation: domain.RelationRooms})
	ops := m[0].Value.(bson.M)["$in"].(bson.A)
	if len(ops) != 4 {
		t.Errorf("expected insert, update, replace and delete, got %v", ops)
	}
}

func TestChangePipeline_IDFilter(t *testing.T) {
	m := matchOf(t, domain.FeedQuery{
		Relation: domain.RelationProfiles,
		Filter:   &domain.ColumnFilter{Column: "id", Value: "u1"},
	})
	if m[1].Key != "documentKey._id" {
		t.Errorf("expected documentKey filter, got %v", m[1])
	}
}

func TestChangeDoc_ToEvent(t *testing.T) {
	doc := changeDoc{OperationType: "replace", FullDocument: bson.M{"_id": "u1", "username": "ann"}}
	doc.DocumentKey.ID = "u1"

	ev, ok := doc.toEvent(domain.RelationProfiles)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Type != domain.ChangeUpdate || ev.RecordID != "u1" {
		t.Errorf("unexpected event %+v", ev)
	}
	if v, _ := ev.Column("username"); v != "ann" {
		t.Errorf("expected username column, got %q", v)
	}
	if _, ok := ev.Record["_id"]; ok {
		t.Error("expected _id renamed to id")
	}

	if _, ok := (changeDoc{OperationType: "drop"}).toEvent(domain.RelationRooms); ok {
		t.Error("expected drop to be ignored")
	}
}
