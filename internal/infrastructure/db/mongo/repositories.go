package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roomsync/chat-client/internal/core/domain"
)

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

type AccountRepository struct {
	col *mongo.Collection
}

func NewAccountRepository(db *mongo.Database) *AccountRepository {
	return &AccountRepository{col: db.Collection(accountsCollection)}
}

func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Email = strings.ToLower(a.Email)
	if _, err := r.col.InsertOne(ctx, a); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrUserExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.findOne(ctx, bson.M{"email": strings.ToLower(email)})
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *AccountRepository) findOne(ctx context.Context, filter bson.M) (*domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var a domain.Account
	if err := r.col.FindOne(ctx, filter).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &a, nil
}

func (r *AccountRepository) Confirm(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.A{bson.M{"$set": bson.M{"confirmed_at": bson.M{"$ifNull": bson.A{"$confirmed_at", "$$NOW"}}}}},
	)
	if err != nil {
		return fmt.Errorf("confirm account: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

type ProfileRepository struct {
	col *mongo.Collection
}

func NewProfileRepository(db *mongo.Database) *ProfileRepository {
	return &ProfileRepository{col: db.Collection(string(domain.RelationProfiles))}
}

func (r *ProfileRepository) Get(ctx context.Context, id string) (*domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var p domain.Profile
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (r *ProfileRepository) Upsert(ctx context.Context, p *domain.Profile) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------------------

// roomDoc is a room as stored. Seq is an ObjectID taken at insert time and
// breaks created_at ties in insertion order.
type roomDoc struct {
	domain.Room `bson:",inline"`
	Seq         primitive.ObjectID `bson:"seq"`
}

// RoomRepository deletes in two steps; it has no cascade.
type RoomRepository struct {
	col *mongo.Collection
}

func NewRoomRepository(db *mongo.Database) *RoomRepository {
	return &RoomRepository{col: db.Collection(string(domain.RelationRooms))}
}

func (r *RoomRepository) List(ctx context.Context) ([]domain.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	var out []domain.Room
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return out, nil
}

func (r *RoomRepository) Get(ctx context.Context, id string) (*domain.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var room domain.Room
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&room); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &room, nil
}

func (r *RoomRepository) Create(ctx context.Context, in domain.NewRoom) (*domain.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	room := domain.Room{
		ID:        uuid.NewString(),
		Name:      in.Name,
		CreatedBy: in.CreatedBy,
		// Mongo stores milliseconds; truncate so the returned value matches reads.
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Secret:    in.Secret,
	}
	if _, err := r.col.InsertOne(ctx, roomDoc{Room: room, Seq: primitive.NewObjectID()}); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return &room, nil
}

func (r *RoomRepository) Delete(ctx context.Context, id, createdBy string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id, "created_by": createdBy})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

type messageDoc struct {
	ID        string          `bson:"_id"`
	RoomID    string          `bson:"room_id"`
	UserID    string          `bson:"user_id"`
	Content   string          `bson:"content"`
	CreatedAt time.Time          `bson:"created_at"`
	Seq       primitive.ObjectID `bson:"seq,omitempty"`
	Author    *domain.Profile    `bson:"author,omitempty"`
}

func (d messageDoc) toDomain() domain.Message {
	return domain.Message{
		ID:        d.ID,
		RoomID:    d.RoomID,
		UserID:    d.UserID,
		Content:   d.Content,
		CreatedAt: d.CreatedAt,
		Author:    d.Author,
	}
}

type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{col: db.Collection(string(domain.RelationMessages))}
}

// withAuthor matches messages and joins each one's profile as "author".
func withAuthor(match bson.M) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         string(domain.RelationProfiles),
			"localField":   "user_id",
			"foreignField": "_id",
			"as":           "author",
		}}},
		{{Key: "$unwind", Value: bson.M{"path": "$author", "preserveNullAndEmptyArrays": true}}},
	}
}

func (r *MessageRepository) aggregate(ctx context.Context, match bson.M) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := r.col.Aggregate(ctx, withAuthor(match))
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	out := make([]domain.Message, len(docs))
	for i, d := range docs {
		out[i] = d.toDomain()
	}
	return out, nil
}

func (r *MessageRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Message, error) {
	return r.aggregate(ctx, bson.M{"room_id": roomID})
}

func (r *MessageRepository) GetWithAuthor(ctx context.Context, id string) (*domain.Message, error) {
	msgs, err := r.aggregate(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, domain.ErrMessageNotFound
	}
	return &msgs[0], nil
}

func (r *MessageRepository) Insert(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := messageDoc{
		ID:        uuid.NewString(),
		RoomID:    in.RoomID,
		UserID:    in.UserID,
		Content:   in.Content,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Seq:       primitive.NewObjectID(),
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	m := doc.toDomain()
	return &m, nil
}

func (r *MessageRepository) DeleteByRoom(ctx context.Context, roomID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := r.col.DeleteMany(ctx, bson.M{"room_id": roomID}); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
