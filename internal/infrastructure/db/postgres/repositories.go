package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roomsync/chat-client/internal/core/domain"
)

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auth_users (id, email, password_hash, confirmed_at, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5)
	`, a.ID, a.Email, a.PasswordHash, a.ConfirmedAt, a.CreatedAt)
	if err != nil {
		if pgCode(err) == uniqueViolation {
			return domain.ErrUserExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.findOne(ctx, "lower(email) = lower($1)", email)
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	if !validID(id) {
		return nil, domain.ErrAccountNotFound
	}
	return r.findOne(ctx, "id = $1::uuid", id)
}

func (r *AccountRepository) findOne(ctx context.Context, where string, arg string) (*domain.Account, error) {
	a := &domain.Account{}
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, email, password_hash, confirmed_at, created_at
		FROM auth_users WHERE `+where, arg).Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.ConfirmedAt,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) Confirm(ctx context.Context, id string) error {
	if !validID(id) {
		return domain.ErrAccountNotFound
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE auth_users SET confirmed_at = COALESCE(confirmed_at, now())
		WHERE id = $1::uuid
	`, id)
	if err != nil {
		return fmt.Errorf("confirm account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

func (r *ProfileRepository) Get(ctx context.Context, id string) (*domain.Profile, error) {
	if !validID(id) {
		return nil, domain.ErrProfileNotFound
	}
	p := &domain.Profile{}
	var avatar *string
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, username, avatar_url, updated_at FROM profiles WHERE id = $1::uuid
	`, id).Scan(&p.ID, &p.Username, &avatar, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if avatar != nil {
		p.AvatarURL = *avatar
	}
	return p, nil
}

func (r *ProfileRepository) Upsert(ctx context.Context, p *domain.Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (id, username, avatar_url, updated_at)
		VALUES ($1::uuid, $2, NULLIF($3, ''), $4)
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username, avatar_url = EXCLUDED.avatar_url, updated_at = EXCLUDED.updated_at
	`, p.ID, p.Username, p.AvatarURL, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------------------

// RoomRepository also implements ports.RoomCascadeDeleter.
type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

const roomColumns = `id::text, name, created_by::text, created_at, COALESCE(password, '')`

func scanRoom(row pgx.Row) (*domain.Room, error) {
	room := &domain.Room{}
	if err := row.Scan(&room.ID, &room.Name, &room.CreatedBy, &room.CreatedAt, &room.Secret); err != nil {
		return nil, err
	}
	return room, nil
}

func (r *RoomRepository) List(ctx context.Context) ([]domain.Room, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roomColumns+` FROM chat_rooms ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, *room)
	}
	return out, rows.Err()
}

func (r *RoomRepository) Get(ctx context.Context, id string) (*domain.Room, error) {
	if !validID(id) {
		return nil, domain.ErrRoomNotFound
	}
	room, err := scanRoom(r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM chat_rooms WHERE id = $1::uuid`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) Create(ctx context.Context, in domain.NewRoom) (*domain.Room, error) {
	room, err := scanRoom(r.pool.QueryRow(ctx, `
		INSERT INTO chat_rooms (name, created_by, password)
		VALUES ($1, $2::uuid, NULLIF($3, ''))
		RETURNING `+roomColumns, in.Name, in.CreatedBy, in.Secret))
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) Delete(ctx context.Context, id, createdBy string) error {
	if !validID(id) || !validID(createdBy) {
		return domain.ErrRoomNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM chat_rooms WHERE id = $1::uuid AND created_by = $2::uuid`, id, createdBy)
	if err != nil {
		if pgCode(err) == foreignKeyViolation {
			return fmt.Errorf("delete room: messages remain: %w", err)
		}
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// DeleteWithMessages removes the room and its messages in one transaction.
func (r *RoomRepository) DeleteWithMessages(ctx context.Context, id, createdBy string) error {
	if !validID(id) {
		return domain.ErrRoomNotFound
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var owner string
		err := tx.QueryRow(ctx, `SELECT created_by::text FROM chat_rooms WHERE id = $1::uuid FOR UPDATE`, id).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != createdBy) {
			return domain.ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("lock room: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE room_id = $1::uuid`, id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chat_rooms WHERE id = $1::uuid`, id); err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageWithAuthor = `
	SELECT m.id::text, m.room_id::text, m.user_id::text, m.content, m.created_at,
	       p.username, p.avatar_url, p.updated_at
	FROM messages m
	LEFT JOIN profiles p ON p.id = m.user_id`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	m := &domain.Message{}
	var (
		username  *string
		avatar    *string
		updatedAt *time.Time
	)
	if err := row.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.CreatedAt, &username, &avatar, &updatedAt); err != nil {
		return nil, err
	}
	if username != nil {
		m.Author = &domain.Profile{ID: m.UserID, Username: *username}
		if avatar != nil {
			m.Author.AvatarURL = *avatar
		}
		if updatedAt != nil {
			m.Author.UpdatedAt = *updatedAt
		}
	}
	return m, nil
}

func (r *MessageRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Message, error) {
	if !validID(roomID) {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, messageWithAuthor+` WHERE m.room_id = $1::uuid ORDER BY m.created_at, m.seq`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *MessageRepository) GetWithAuthor(ctx context.Context, id string) (*domain.Message, error) {
	if !validID(id) {
		return nil, domain.ErrMessageNotFound
	}
	m, err := scanMessage(r.pool.QueryRow(ctx, messageWithAuthor+` WHERE m.id = $1::uuid`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) Insert(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	if !validID(in.RoomID) {
		return nil, domain.ErrRoomNotFound
	}
	m := &domain.Message{}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (room_id, user_id, content)
		VALUES ($1::uuid, $2::uuid, $3)
		RETURNING id::text, room_id::text, user_id::text, content, created_at
	`, in.RoomID, in.UserID, in.Content).Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.CreatedAt)
	if err != nil {
		if pgCode(err) == foreignKeyViolation {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) DeleteByRoom(ctx context.Context, roomID string) error {
	if !validID(roomID) {
		return nil
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE room_id = $1::uuid`, roomID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
