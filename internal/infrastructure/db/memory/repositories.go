package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/roomsync/chat-client/internal/core/domain"
)

type accountRow struct {
	domain.Account
}

type profileRow struct {
	domain.Profile
}

type roomRow struct {
	domain.Room
	seq int64
}

type messageRow struct {
	domain.Message
	seq int64
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

type AccountRepository struct {
	store *Store
}

func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

func (r *AccountRepository) Create(_ context.Context, account *domain.Account) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, ok := s.emails[email]; ok {
		return domain.ErrUserExists
	}
	if account.ID == "" {
		account.ID = s.id()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = s.now()
	}
	s.accounts[account.ID] = accountRow{Account: *account}
	s.emails[email] = account.ID
	return nil
}

func (r *AccountRepository) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	acc := s.accounts[id].Account
	return &acc, nil
}

func (r *AccountRepository) FindByID(_ context.Context, id string) (*domain.Account, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	acc := row.Account
	return &acc, nil
}

func (r *AccountRepository) Confirm(_ context.Context, id string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if row.ConfirmedAt == nil {
		now := s.now()
		row.ConfirmedAt = &now
		s.accounts[id] = row
	}
	return nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

type ProfileRepository struct {
	store *Store
}

func NewProfileRepository(store *Store) *ProfileRepository {
	return &ProfileRepository{store: store}
}

func (r *ProfileRepository) Get(_ context.Context, id string) (*domain.Profile, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.profiles[id]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	p := row.Profile
	return &p, nil
}

func (r *ProfileRepository) Upsert(_ context.Context, profile *domain.Profile) error {
	s := r.store
	s.mu.Lock()
	_, existed := s.profiles[profile.ID]
	profile.UpdatedAt = s.now()
	s.profiles[profile.ID] = profileRow{Profile: *profile}
	s.mu.Unlock()

	typ := domain.ChangeInsert
	if existed {
		typ = domain.ChangeUpdate
	}
	s.feed.Publish(domain.ChangeEvent{
		Relation: domain.RelationProfiles,
		Type:     typ,
		RecordID: profile.ID,
		Record:   map[string]any{"id": profile.ID, "username": profile.Username},
	})
	return nil
}

// ---------------------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------------------

// RoomRepository also implements ports.RoomCascadeDeleter.
type RoomRepository struct {
	store *Store
}

func NewRoomRepository(store *Store) *RoomRepository {
	return &RoomRepository{store: store}
}

func (r *RoomRepository) List(_ context.Context) ([]domain.Room, error) {
	s := r.store
	s.mu.RLock()
	rows := make([]roomRow, 0, len(s.rooms))
	for _, row := range s.rooms {
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	out := make([]domain.Room, len(rows))
	for i, row := range rows {
		out[i] = row.Room
	}
	return out, nil
}

func (r *RoomRepository) Get(_ context.Context, id string) (*domain.Room, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	room := row.Room
	return &room, nil
}

func (r *RoomRepository) Create(_ context.Context, in domain.NewRoom) (*domain.Room, error) {
	s := r.store
	s.mu.Lock()
	room := domain.Room{
		ID:        s.id(),
		Name:      in.Name,
		CreatedBy: in.CreatedBy,
		CreatedAt: s.now(),
		Secret:    in.Secret,
	}
	s.rooms[room.ID] = roomRow{Room: room, seq: s.nextSeq()}
	s.mu.Unlock()

	s.feed.Publish(roomChange(domain.ChangeInsert, room))
	return &room, nil
}

func (r *RoomRepository) Delete(_ context.Context, id, createdBy string) error {
	s := r.store
	s.mu.Lock()
	row, ok := s.rooms[id]
	if !ok || row.CreatedBy != createdBy {
		s.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	delete(s.rooms, id)
	s.mu.Unlock()

	s.feed.Publish(roomChange(domain.ChangeDelete, row.Room))
	return nil
}

// DeleteWithMessages removes the room and its messages under one lock.
func (r *RoomRepository) DeleteWithMessages(_ context.Context, id, createdBy string) error {
	s := r.store
	s.mu.Lock()
	row, ok := s.rooms[id]
	if !ok || row.CreatedBy != createdBy {
		s.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	var removed []messageRow
	for mid, m := range s.messages {
		if m.RoomID == id {
			removed = append(removed, m)
			delete(s.messages, mid)
		}
	}
	delete(s.rooms, id)
	s.mu.Unlock()

	for _, m := range removed {
		s.feed.Publish(messageChange(domain.ChangeDelete, m.Message))
	}
	s.feed.Publish(roomChange(domain.ChangeDelete, row.Room))
	return nil
}

func roomChange(typ domain.ChangeType, room domain.Room) domain.ChangeEvent {
	return domain.ChangeEvent{
		Relation: domain.RelationRooms,
		Type:     typ,
		RecordID: room.ID,
		Record: map[string]any{
			"id":         room.ID,
			"name":       room.Name,
			"created_by": room.CreatedBy,
		},
	}
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

type MessageRepository struct {
	store *Store
}

func NewMessageRepository(store *Store) *MessageRepository {
	return &MessageRepository{store: store}
}

func (r *MessageRepository) ListByRoom(_ context.Context, roomID string) ([]domain.Message, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []messageRow
	for _, m := range s.messages {
		if m.RoomID == roomID {
			rows = append(rows, m)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]domain.Message, len(rows))
	for i, row := range rows {
		out[i] = s.withAuthorLocked(row.Message)
	}
	return out, nil
}

func (r *MessageRepository) GetWithAuthor(_ context.Context, id string) (*domain.Message, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	m := s.withAuthorLocked(row.Message)
	return &m, nil
}

func (r *MessageRepository) Insert(_ context.Context, in domain.NewMessage) (*domain.Message, error) {
	s := r.store
	s.mu.Lock()
	if _, ok := s.rooms[in.RoomID]; !ok {
		s.mu.Unlock()
		return nil, domain.ErrRoomNotFound
	}
	m := domain.Message{
		ID:        s.id(),
		RoomID:    in.RoomID,
		UserID:    in.UserID,
		Content:   in.Content,
		CreatedAt: s.now(),
	}
	s.messages[m.ID] = messageRow{Message: m, seq: s.nextSeq()}
	s.mu.Unlock()

	s.feed.Publish(messageChange(domain.ChangeInsert, m))
	return &m, nil
}

func (r *MessageRepository) DeleteByRoom(_ context.Context, roomID string) error {
	s := r.store
	s.mu.Lock()
	var removed []messageRow
	for id, m := range s.messages {
		if m.RoomID == roomID {
			removed = append(removed, m)
			delete(s.messages, id)
		}
	}
	s.mu.Unlock()

	for _, m := range removed {
		s.feed.Publish(messageChange(domain.ChangeDelete, m.Message))
	}
	return nil
}

// withAuthorLocked must be called with mu held.
func (s *Store) withAuthorLocked(m domain.Message) domain.Message {
	if p, ok := s.profiles[m.UserID]; ok {
		author := p.Profile
		m.Author = &author
	}
	return m
}

func messageChange(typ domain.ChangeType, m domain.Message) domain.ChangeEvent {
	return domain.ChangeEvent{
		Relation: domain.RelationMessages,
		Type:     typ,
		RecordID: m.ID,
		Record: map[string]any{
			"id":      m.ID,
			"room_id": m.RoomID,
			"user_id": m.UserID,
		},
	}
}
