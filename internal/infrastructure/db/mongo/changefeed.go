package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roomsync/chat-client/internal/core/domain"
	"github.com/roomsync/chat-client/internal/core/ports"
)

var ErrFeedClosed = errors.New("change feed closed")

// ChangeFeed opens one change stream per subscription, with the query pushed
// down into the stream's $match stage.
type ChangeFeed struct {
	db  *mongo.Database
	log zerolog.Logger

	mu     sync.Mutex
	subs   map[*streamSub]struct{}
	closed bool
}

func NewChangeFeed(db *mongo.Database, log zerolog.Logger) *ChangeFeed {
	return &ChangeFeed{db: db, log: log, subs: make(map[*streamSub]struct{})}
}

// Subscribe returns once the change stream is open on the server.
func (f *ChangeFeed) Subscribe(ctx context.Context, q domain.FeedQuery) (ports.FeedSubscription, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFeedClosed
	}
	f.mu.Unlock()

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := f.db.Collection(string(q.Relation)).Watch(ctx, changePipeline(q), opts)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", q.Relation, err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &streamSub{
		feed:   f,
		query:  q,
		stream: stream,
		cancel: cancel,
		events: make(chan domain.ChangeEvent, 16),
		done:   make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cancel()
		_ = stream.Close(context.Background())
		return nil, ErrFeedClosed
	}
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	go s.pump(streamCtx, f.log.With().Str("scope", q.Scope()).Logger())
	return s, nil
}

// Close ends every open subscription.
func (f *ChangeFeed) Close() {
	f.mu.Lock()
	f.closed = true
	subs := make([]*streamSub, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
}

func (f *ChangeFeed) remove(s *streamSub) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
}

type streamSub struct {
	feed   *ChangeFeed
	query  domain.FeedQuery
	stream *mongo.ChangeStream
	cancel context.CancelFunc
	events chan domain.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (s *streamSub) Events() <-chan domain.ChangeEvent { return s.events }

func (s *streamSub) Close() error {
	s.once.Do(func() {
		s.feed.remove(s)
		s.cancel()
	})
	<-s.done
	return nil
}

func (s *streamSub) pump(ctx context.Context, log zerolog.Logger) {
	defer close(s.done)
	defer close(s.events)
	defer s.stream.Close(context.Background())

	for s.stream.Next(ctx) {
		var doc changeDoc
		if err := s.stream.Decode(&doc); err != nil {
			log.Warn().Err(err).Msg("undecodable change stream document")
			continue
		}
		ev, ok := doc.toEvent(s.query.Relation)
		if !ok || !s.query.Matches(ev) {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
	if err := s.stream.Err(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("change stream ended")
	}
}

// ---------------------------------------------------------------------------
// Query translation
// ---------------------------------------------------------------------------

var operationTypes = map[domain.ChangeType][]string{
	domain.ChangeInsert: {"insert"},
	domain.ChangeUpdate: {"update", "replace"},
	domain.ChangeDelete: {"delete"},
}

// changePipeline renders q as a single $match stage. Column filters apply to
// the full document, so deletes only pass an unfiltered query.
func changePipeline(q domain.FeedQuery) mongo.Pipeline {
	match := bson.D{}

	types := q.Types
	if len(types) == 0 {
		types = []domain.ChangeType{domain.ChangeInsert, domain.ChangeUpdate, domain.ChangeDelete}
	}
	ops := bson.A{}
	for _, t := range types {
		for _, op := range operationTypes[t] {
			ops = append(ops, op)
		}
	}
	match = append(match, bson.E{Key: "operationType", Value: bson.M{"$in": ops}})

	if q.Filter != nil {
		field := "fullDocument." + q.Filter.Column
		if q.Filter.Column == "id" {
			field = "documentKey._id"
		}
		match = append(match, bson.E{Key: field, Value: q.Filter.Value})
	}
	return mongo.Pipeline{{{Key: "$match", Value: match}}}
}

type changeDoc struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.M `bson:"fullDocument"`
}

func (d changeDoc) toEvent(rel domain.Relation) (domain.ChangeEvent, bool) {
	var typ domain.ChangeType
	switch d.OperationType {
	case "insert":
		typ = domain.ChangeInsert
	case "update", "replace":
		typ = domain.ChangeUpdate
	case "delete":
		typ = domain.ChangeDelete
	default:
		return domain.ChangeEvent{}, false
	}
	if d.DocumentKey.ID == "" {
		return domain.ChangeEvent{}, false
	}

	record := make(map[string]any, len(d.FullDocument))
	for k, v := range d.FullDocument {
		if k == "_id" {
			k = "id"
		}
		record[k] = v
	}
	return domain.ChangeEvent{Relation: rel, Type: typ, RecordID: d.DocumentKey.ID, Record: record}, true
}
