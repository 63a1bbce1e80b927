package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	cache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process. CAS atomicity comes from a
// per-session mutex, so it is only correct for a single instance.
type MemoryStore struct {
	records   *cache.Cache
	retention time.Duration

	mu     sync.RWMutex
	owners map[string]map[string]struct{} // owner key -> session ids
	expiry map[string]time.Time           // session id -> expires_at, sweep work-list

	locks sync.Map // session id -> *sync.Mutex
}

// NewMemoryStore creates an in-process store. retention <= 0 uses DefaultRetention.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &MemoryStore{
		records:   cache.New(cache.NoExpiration, time.Minute),
		retention: retention,
		owners:    make(map[string]map[string]struct{}),
		expiry:    make(map[string]time.Time),
	}
	s.records.OnEvicted(s.onEvicted)
	return s
}

// Name identifies the backend
func (s *MemoryStore) Name() string {
	return "memory"
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) lockFor(sessionID string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Create inserts a new session
func (s *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreTimeout, err)
	}

	l := s.lockFor(session.SessionID)
	l.Lock()
	defer l.Unlock()

	if _, found := s.records.Get(session.SessionID); found {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, session.SessionID)
	}
	s.put(session)
	return nil
}

// Get returns a copy of the stored session
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreTimeout, err)
	}
	return s.get(sessionID)
}

func (s *MemoryStore) get(sessionID string) (*models.Session, error) {
	v, found := s.records.Get(sessionID)
	if !found {
		return nil, models.ErrNotFound
	}
	return v.(*models.Session).Clone(), nil
}

// CompareAndSwap writes next if the stored version still equals expectedVersion
func (s *MemoryStore) CompareAndSwap(ctx context.Context, next *models.Session, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreTimeout, err)
	}

	l := s.lockFor(next.SessionID)
	l.Lock()
	defer l.Unlock()

	current, err := s.get(next.SessionID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return &models.VersionConflictError{
			SessionID: next.SessionID,
			Expected:  expectedVersion,
			Current:   current,
		}
	}
	s.put(next)
	return nil
}

// put stores a copy and keeps the indexes in line. Caller holds the session lock.
func (s *MemoryStore) put(session *models.Session) {
	s.records.Set(session.SessionID, session.Clone(), recordTTL(session, s.retention))

	s.mu.Lock()
	defer s.mu.Unlock()

	key := session.OwnerKey()
	if !indexed(session) {
		s.unindexLocked(key, session.SessionID)
		return
	}
	ids, ok := s.owners[key]
	if !ok {
		ids = make(map[string]struct{})
		s.owners[key] = ids
	}
	ids[session.SessionID] = struct{}{}
	s.expiry[session.SessionID] = session.ExpiresAt
}

func (s *MemoryStore) unindexLocked(ownerKey, sessionID string) {
	if ids, ok := s.owners[ownerKey]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(s.owners, ownerKey)
		}
	}
	delete(s.expiry, sessionID)
}

// ListByOwner returns the sessions for (userID, role), newest activity first
func (s *MemoryStore) ListByOwner(ctx context.Context, userID string, role models.Role, limit int) ([]*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreTimeout, err)
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.owners[models.OwnerKey(userID, role)]))
	for id := range s.owners[models.OwnerKey(userID, role)] {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sessions := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.get(id)
		if err != nil {
			continue
		}
		// The index key already pins the pair; this guards against a reused id.
		if session.UserID != userID || session.Role != role {
			continue
		}
		sessions = append(sessions, session)
	}

	SortByActivity(sessions)
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// ListExpired returns indexed sessions whose deadline has passed, oldest deadline first
func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreTimeout, err)
	}

	s.mu.RLock()
	var ids []string
	for id, deadline := range s.expiry {
		if !deadline.After(now) {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	var sessions []*models.Session
	for _, id := range ids {
		session, err := s.get(id)
		if err != nil {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].ExpiresAt.Before(sessions[j].ExpiresAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// Retire drops the session from the owner index and sweep work-list
func (s *MemoryStore) Retire(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unindexLocked(session.OwnerKey(), session.SessionID)
	return nil
}

func (s *MemoryStore) onEvicted(sessionID string, v interface{}) {
	session, ok := v.(*models.Session)
	if !ok {
		return
	}
	s.mu.Lock()
	s.unindexLocked(session.OwnerKey(), sessionID)
	s.mu.Unlock()
	s.locks.Delete(sessionID)
}

// Export returns a copy of every record still held
func (s *MemoryStore) Export() []*models.Session {
	items := s.records.Items()
	sessions := make([]*models.Session, 0, len(items))
	for _, item := range items {
		if session, ok := item.Object.(*models.Session); ok {
			sessions = append(sessions, session.Clone())
		}
	}
	SortByActivity(sessions)
	return sessions
}

// Remove drops a record and its index entries
func (s *MemoryStore) Remove(sessionID string) {
	s.records.Delete(sessionID)
}

// Len reports how many records are held, expired ones included
func (s *MemoryStore) Len() int {
	return s.records.ItemCount()
}

// SortByActivity orders sessions by last_active_at descending, newest creation first on ties
func SortByActivity(sessions []*models.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.LastActiveAt.Equal(b.LastActiveAt) {
			return a.LastActiveAt.After(b.LastActiveAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}
