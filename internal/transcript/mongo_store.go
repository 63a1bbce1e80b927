package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/Harryoung/efka-sub000/internal/database"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps transcripts in the transcripts collection.
// A TTL index on expiresAt drops them once retention passes.
type MongoStore struct {
	collection *mongo.Collection
	retention  time.Duration
}

// NewMongoStore creates a transcript store on db
func NewMongoStore(db *database.MongoDB, retention time.Duration) *MongoStore {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &MongoStore{
		collection: db.Collection(database.CollectionTranscripts),
		retention:  retention,
	}
}

// Append inserts a turn. Seq is a nanosecond timestamp so concurrent writers never collide on order.
func (s *MongoStore) Append(ctx context.Context, key string, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	turn.ContextKey = key
	turn.Seq = turn.CreatedAt.UnixNano()
	turn.ExpiresAt = turn.CreatedAt.Add(s.retention)

	if _, err := s.collection.InsertOne(ctx, turn); err != nil {
		return fmt.Errorf("failed to append transcript turn: %w", err)
	}
	return nil
}

// Load returns the most recent turns, oldest first
func (s *MongoStore) Load(ctx context.Context, key string, limit int) ([]Turn, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.collection.Find(ctx, bson.M{"contextKey": key}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	defer cursor.Close(ctx)

	var turns []Turn
	if err := cursor.All(ctx, &turns); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}

	// Newest first from the query; flip to chronological
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
