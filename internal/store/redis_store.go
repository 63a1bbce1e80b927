package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/redis/go-redis/v9"
)

// maxIndexScan bounds how many index members a single owner query reads
const maxIndexScan = 500

// Record layout:
//
//	<prefix>session:<id>            hash {version, data}
//	<prefix>sessions:<user>:<role>  zset member=id score=last_active_at ms
//	<prefix>sessions:expiry         zset member=id score=expires_at ms
//
// All three keys of a write are touched inside one Lua script, so the
// version check and the write are a single atomic step on the server.

// KEYS: record, owner index, expiry list
// ARGV: version, data, ttl ms, activity score, id, expiry score, indexed flag
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
if ARGV[7] == '1' then
	redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
	redis.call('ZADD', KEYS[3], ARGV[6], ARGV[5])
	if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[3]) then
		redis.call('PEXPIRE', KEYS[2], ARGV[3])
	end
end
return 1
`)

// KEYS: record, owner index, expiry list
// ARGV: expected version, new version, data, ttl ms, activity score, id, expiry score, indexed flag
var compareAndSwapScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if not current then
	return {-1}
end
if current ~= ARGV[1] then
	return {0, redis.call('HGET', KEYS[1], 'data')}
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'data', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
if ARGV[8] == '1' then
	redis.call('ZADD', KEYS[2], ARGV[5], ARGV[6])
	redis.call('ZADD', KEYS[3], ARGV[7], ARGV[6])
	if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[4]) then
		redis.call('PEXPIRE', KEYS[2], ARGV[4])
	end
else
	redis.call('ZREM', KEYS[2], ARGV[6])
	redis.call('ZREM', KEYS[3], ARGV[6])
end
return {1}
`)

// RedisStore is the shared, multi-instance session store
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore wraps an existing client. prefix namespaces every key.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

// Name identifies the backend
func (s *RedisStore) Name() string {
	return "redis"
}

func (s *RedisStore) recordKey(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *RedisStore) ownerKey(userID string, role models.Role) string {
	return s.prefix + "sessions:" + userID + ":" + string(role)
}

func (s *RedisStore) expiryKey() string {
	return s.prefix + "sessions:expiry"
}

// Ping checks Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return classify(s.client.Ping(ctx).Err())
}

func indexFlag(session *models.Session) string {
	if indexed(session) {
		return "1"
	}
	return "0"
}

// Create inserts a new session record and indexes it
func (s *RedisStore) Create(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	keys := []string{s.recordKey(session.SessionID), s.ownerKey(session.UserID, session.Role), s.expiryKey()}
	created, err := createScript.Run(ctx, s.client, keys,
		session.Version,
		data,
		recordTTL(session, s.retention).Milliseconds(),
		session.LastActiveAt.UnixMilli(),
		session.SessionID,
		session.ExpiresAt.UnixMilli(),
		indexFlag(session),
	).Int64()
	if err != nil {
		return classify(err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, session.SessionID)
	}
	return nil
}

// Get reads a single record
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	data, err := s.client.HGet(ctx, s.recordKey(sessionID), "data").Result()
	if err != nil {
		return nil, classify(err)
	}
	return decodeSession(data)
}

// CompareAndSwap runs the conditional write script
func (s *RedisStore) CompareAndSwap(ctx context.Context, next *models.Session, expectedVersion int64) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	keys := []string{s.recordKey(next.SessionID), s.ownerKey(next.UserID, next.Role), s.expiryKey()}
	res, err := compareAndSwapScript.Run(ctx, s.client, keys,
		strconv.FormatInt(expectedVersion, 10),
		strconv.FormatInt(next.Version, 10),
		data,
		recordTTL(next, s.retention).Milliseconds(),
		next.LastActiveAt.UnixMilli(),
		next.SessionID,
		next.ExpiresAt.UnixMilli(),
		indexFlag(next),
	).Slice()
	if err != nil {
		return classify(err)
	}
	if len(res) == 0 {
		return fmt.Errorf("unexpected compare-and-swap reply for session %s", next.SessionID)
	}

	code, _ := res[0].(int64)
	switch code {
	case 1:
		return nil
	case -1:
		return models.ErrNotFound
	}

	conflict := &models.VersionConflictError{SessionID: next.SessionID, Expected: expectedVersion}
	if len(res) > 1 {
		if raw, ok := res[1].(string); ok {
			if current, err := decodeSession(raw); err == nil {
				conflict.Current = current
			}
		}
	}
	return conflict
}

// ListByOwner reads the owner index newest-first and loads each record
func (s *RedisStore) ListByOwner(ctx context.Context, userID string, role models.Role, limit int) ([]*models.Session, error) {
	ownerKey := s.ownerKey(userID, role)
	ids, err := s.client.ZRevRange(ctx, ownerKey, 0, maxIndexScan-1).Result()
	if err != nil {
		return nil, classify(err)
	}

	sessions, missing, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		// Records already dropped by their TTL; prune the index lazily.
		s.client.ZRem(ctx, ownerKey, toMembers(missing)...)
	}

	filtered := sessions[:0]
	for _, session := range sessions {
		if session.UserID == userID && session.Role == role {
			filtered = append(filtered, session)
		}
	}

	SortByActivity(filtered)
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// ListExpired reads the expiry work-list up to now
func (s *RedisStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = maxIndexScan
	}
	ids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, classify(err)
	}

	sessions, missing, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		s.client.ZRem(ctx, s.expiryKey(), toMembers(missing)...)
	}
	return sessions, nil
}

// Retire removes the session from its owner index and the expiry list
func (s *RedisStore) Retire(ctx context.Context, session *models.Session) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.ownerKey(session.UserID, session.Role), session.SessionID)
		pipe.ZRem(ctx, s.expiryKey(), session.SessionID)
		return nil
	})
	return classify(err)
}

// loadMany fetches records in one pipeline. Ids whose record is gone are returned as missing.
func (s *RedisStore) loadMany(ctx context.Context, ids []string) ([]*models.Session, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, s.recordKey(id), "data")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, classify(err)
	}

	sessions := make([]*models.Session, 0, len(ids))
	var missing []string
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			missing = append(missing, ids[i])
			continue
		}
		if err != nil {
			return nil, nil, classify(err)
		}
		session, err := decodeSession(data)
		if err != nil {
			log.Printf("⚠️  [SESSION-STORE] Skipping unreadable session record %s: %v", ids[i], err)
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, missing, nil
}

func decodeSession(data string) (*models.Session, error) {
	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func toMembers(ids []string) []interface{} {
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return members
}

// classify maps client errors onto the store error taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return models.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", models.ErrStoreTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", models.ErrStoreTimeout, err)
		}
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) ||
		strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return err
}
