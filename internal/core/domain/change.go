package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Relation names a backend table observed through the change feed.
type Relation string

const (
	RelationProfiles Relation = "profiles"
	RelationRooms    Relation = "chat_rooms"
	RelationMessages Relation = "messages"
)

// ChangeType is the row-level operation carried by a ChangeEvent.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one change-feed notification. Record holds whatever columns
// the backend chose to send and is never assumed complete; RecordID is
// always set.
type ChangeEvent struct {
	Relation Relation
	Type     ChangeType
	RecordID string
	Record   map[string]any
}

// Column returns the named record column rendered as a string.
func (e ChangeEvent) Column(name string) (string, bool) {
	if name == "id" && e.RecordID != "" {
		return e.RecordID, true
	}
	v, ok := e.Record[name]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// ColumnFilter is an equality predicate on one column.
type ColumnFilter struct {
	Column string
	Value  string
}

// String renders the filter as column=eq.value.
func (f ColumnFilter) String() string {
	return f.Column + "=eq." + f.Value
}

// FeedQuery scopes a change-feed subscription to a relation, an optional
// column filter and a set of event types. An empty Types set means all.
type FeedQuery struct {
	Relation Relation
	Filter   *ColumnFilter
	Types    []ChangeType
}

// Matches reports whether ev falls inside the query's scope.
func (q FeedQuery) Matches(ev ChangeEvent) bool {
	if ev.Relation != q.Relation {
		return false
	}
	if len(q.Types) > 0 && !slices.Contains(q.Types, ev.Type) {
		return false
	}
	if q.Filter != nil {
		v, ok := ev.Column(q.Filter.Column)
		if !ok || v != q.Filter.Value {
			return false
		}
	}
	return true
}

// Scope identifies the (relation, filter) tuple. Two queries with the same
// Scope observe the same rows.
func (q FeedQuery) Scope() string {
	var b strings.Builder
	b.WriteString(string(q.Relation))
	if q.Filter != nil {
		b.WriteByte(':')
		b.WriteString(q.Filter.String())
	}
	return b.String()
}
