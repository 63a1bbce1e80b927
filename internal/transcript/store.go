// Package transcript keeps full conversation turns outside the session record.
// Sessions only carry the key; bodies live here.
package transcript

import (
	"context"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Speaker roles recorded on a turn
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
	SpeakerExpert    = "expert"
)

// Turn is one message in a conversation transcript
type Turn struct {
	ContextKey string    `bson:"contextKey" json:"context_key"`
	Seq        int64     `bson:"seq" json:"seq"`
	Speaker    string    `bson:"speaker" json:"speaker"`
	Content    string    `bson:"content" json:"content"`
	CreatedAt  time.Time `bson:"createdAt" json:"created_at"`
	ExpiresAt  time.Time `bson:"expiresAt" json:"-"`
}

// Store persists transcript turns by context key
type Store interface {
	Append(ctx context.Context, key string, turn Turn) error
	// Load returns the last limit turns in chronological order. limit <= 0 returns all.
	Load(ctx context.Context, key string, limit int) ([]Turn, error)
}

// MemoryStore keeps transcripts in process, each expiring retention after its last append
type MemoryStore struct {
	mu        sync.Mutex
	turns     *cache.Cache
	retention time.Duration
}

// NewMemoryStore creates an in-process transcript store
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryStore{
		turns:     cache.New(retention, 10*time.Minute),
		retention: retention,
	}
}

// Append adds a turn to the transcript
func (s *MemoryStore) Append(ctx context.Context, key string, turn Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []Turn
	if v, ok := s.turns.Get(key); ok {
		existing = v.([]Turn)
	}
	turn.ContextKey = key
	turn.Seq = int64(len(existing)) + 1
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	turn.ExpiresAt = turn.CreatedAt.Add(s.retention)

	next := make([]Turn, len(existing), len(existing)+1)
	copy(next, existing)
	s.turns.Set(key, append(next, turn), s.retention)
	return nil
}

// Load returns the most recent turns, oldest first
func (s *MemoryStore) Load(ctx context.Context, key string, limit int) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.turns.Get(key)
	if !ok {
		return nil, nil
	}
	all := v.([]Turn)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Turn, len(all))
	copy(out, all)
	return out, nil
}
