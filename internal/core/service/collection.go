package service

import (
	"slices"
	"sort"

	"github.com/roomsync/chat-client/internal/core/domain"
)

// OrderedSet is a collection deduplicated by key and kept sorted by less.
// Elements that compare equal keep their insertion order. It is not safe for
// concurrent use; views guard it with their own mutex.
type OrderedSet[T any] struct {
	key   func(T) string
	less  func(a, b T) bool
	items []T
	keys  map[string]struct{}
}

// NewOrderedSet returns an empty set ordered by less.
func NewOrderedSet[T any](key func(T) string, less func(a, b T) bool) *OrderedSet[T] {
	return &OrderedSet[T]{key: key, less: less, keys: make(map[string]struct{})}
}

// Merge inserts item at its ordered position unless an element with the same
// key is already held. It reports whether item was inserted.
func (s *OrderedSet[T]) Merge(item T) bool {
	k := s.key(item)
	if _, ok := s.keys[k]; ok {
		return false
	}
	i := sort.Search(len(s.items), func(i int) bool { return s.less(item, s.items[i]) })
	s.items = slices.Insert(s.items, i, item)
	s.keys[k] = struct{}{}
	return true
}

// Contains reports whether an element with key k is held.
func (s *OrderedSet[T]) Contains(k string) bool {
	_, ok := s.keys[k]
	return ok
}

// Find returns the element with key k.
func (s *OrderedSet[T]) Find(k string) (T, bool) {
	if s.Contains(k) {
		for _, it := range s.items {
			if s.key(it) == k {
				return it, true
			}
		}
	}
	var zero T
	return zero, false
}

// Reset drops every element.
func (s *OrderedSet[T]) Reset() {
	s.items = nil
	clear(s.keys)
}

// Len returns the number of elements.
func (s *OrderedSet[T]) Len() int { return len(s.items) }

// Items returns a copy of the elements in order.
func (s *OrderedSet[T]) Items() []T { return slices.Clone(s.items) }

func newMessageSet() *OrderedSet[domain.Message] {
	return NewOrderedSet(
		func(m domain.Message) string { return m.ID },
		func(a, b domain.Message) bool { return a.CreatedAt.Before(b.CreatedAt) },
	)
}

func newRoomSet() *OrderedSet[domain.Room] {
	return NewOrderedSet(
		func(r domain.Room) string { return r.ID },
		func(a, b domain.Room) bool { return a.CreatedAt.After(b.CreatedAt) },
	)
}
