package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/Harryoung/efka-sub000/internal/store"
	"github.com/google/uuid"
)

// SessionConfig tunes the session manager
type SessionConfig struct {
	TTL          time.Duration // sliding lifetime after the last accepted mutation
	MaxKeyPoints int           // key points kept per session, oldest evicted first
	OpTimeout    time.Duration // bound on every single store call
	MaxAttempts  int           // optimistic update attempts before giving up
	Backoff      *BackoffCalculator
}

// DefaultSessionConfig returns production defaults
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:          24 * time.Hour,
		MaxKeyPoints: 10,
		OpTimeout:    250 * time.Millisecond,
		MaxAttempts:  5,
	}
}

// SessionManager owns session lifecycle and the optimistic update protocol.
// It is built once at startup and shared by pointer.
type SessionManager struct {
	store   store.Store
	cfg     SessionConfig
	backoff *BackoffCalculator
	metrics *Metrics
	now     func() time.Time
}

// NewSessionManager creates a manager over st. Zero config fields take defaults.
func NewSessionManager(st store.Store, cfg SessionConfig, metrics *Metrics) *SessionManager {
	defaults := DefaultSessionConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.MaxKeyPoints <= 0 {
		cfg.MaxKeyPoints = defaults.MaxKeyPoints
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaults.OpTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = NewBackoffCalculator(0, 0, 0, -1)
	}

	return &SessionManager{
		store:   st,
		cfg:     cfg,
		backoff: backoff,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock replaces the time source
func (m *SessionManager) SetClock(now func() time.Time) {
	m.now = now
}

// Config returns the effective configuration
func (m *SessionManager) Config() SessionConfig {
	return m.cfg
}

// StoreName reports the backend currently serving sessions
func (m *SessionManager) StoreName() string {
	return m.store.Name()
}

func (m *SessionManager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.OpTimeout)
}

// visible reports whether s can be returned to callers at now
func visible(s *models.Session, now time.Time) bool {
	return s.Status != models.StatusExpired && !s.ExpiredAt(now)
}

// CreateSession allocates a fresh ACTIVE session at version 0
func (m *SessionManager) CreateSession(ctx context.Context, userID string, channel models.Channel, role models.Role) (*models.Session, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidRole, role)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	now := m.now()
	session := &models.Session{
		SessionID:      uuid.New().String(),
		UserID:         userID,
		Channel:        channel,
		Role:           role,
		Status:         models.StatusActive,
		KeyPoints:      []string{},
		Version:        0,
		CreatedAt:      now,
		LastActiveAt:   now,
		ExpiresAt:      now.Add(m.cfg.TTL),
		FullContextKey: uuid.New().String(),
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()
	if err := m.store.Create(opCtx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.metrics.RecordMutation(session.Status)
	log.Printf("🆕 [SESSION] Created %s for %s (%s, %s)", session.SessionID, userID, role, channel)
	return session, nil
}

// GetSession returns a live session. Expired or unknown ids yield models.ErrNotFound.
func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	session, err := m.store.Get(opCtx, sessionID)
	if err != nil {
		return nil, err
	}
	if !visible(session, m.now()) {
		return nil, models.ErrNotFound
	}
	return session, nil
}

// QuerySessions lists live sessions of exactly (userID, role), most recently active
// first. limit <= 0 returns them all.
func (m *SessionManager) QuerySessions(ctx context.Context, userID string, role models.Role, limit int) ([]*models.Session, error) {
	return m.query(ctx, userID, role, limit, false)
}

// PendingSessions is QuerySessions restricted to non-terminal sessions.
// These are the disambiguation candidates.
func (m *SessionManager) PendingSessions(ctx context.Context, userID string, role models.Role, limit int) ([]*models.Session, error) {
	return m.query(ctx, userID, role, limit, true)
}

func (m *SessionManager) query(ctx context.Context, userID string, role models.Role, limit int, pendingOnly bool) ([]*models.Session, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidRole, role)
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	// Fetch the whole index: the store does not filter expiry, so truncating
	// there could hide live sessions behind stale ones.
	all, err := m.store.ListByOwner(opCtx, userID, role, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	now := m.now()
	out := make([]*models.Session, 0, len(all))
	for _, s := range all {
		if s.UserID != userID || s.Role != role || !visible(s, now) {
			continue
		}
		if pendingOnly && s.Status.Terminal() {
			continue
		}
		out = append(out, s)
	}

	store.SortByActivity(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateSummary applies delta if the stored version still equals expectedVersion.
// A mismatch returns *models.VersionConflictError with the record as read; the
// caller decides whether to retry. A terminal session rejects every delta.
func (m *SessionManager) UpdateSummary(ctx context.Context, sessionID string, expectedVersion int64, delta models.SessionDelta) (*models.Session, error) {
	current, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	target := current.Status
	if delta.Status != nil {
		target = *delta.Status
	}
	if current.Status.Terminal() {
		return nil, &models.TransitionError{SessionID: sessionID, From: current.Status, To: target}
	}
	if current.Version != expectedVersion {
		return nil, &models.VersionConflictError{SessionID: sessionID, Expected: expectedVersion, Current: current}
	}
	if delta.Status != nil && !models.CanTransition(current.Status, target) {
		return nil, &models.TransitionError{SessionID: sessionID, From: current.Status, To: target}
	}

	next := current.Clone()
	delta.ApplyTo(next, m.cfg.MaxKeyPoints)
	next.Version = expectedVersion + 1

	now := m.now()
	if now.Before(current.LastActiveAt) {
		now = current.LastActiveAt
	}
	next.LastActiveAt = now
	next.ExpiresAt = now.Add(m.cfg.TTL)

	opCtx, cancel := m.opContext(ctx)
	defer cancel()
	if err := m.store.CompareAndSwap(opCtx, next, expectedVersion); err != nil {
		return nil, err
	}

	m.metrics.RecordMutation(next.Status)
	if next.Status != current.Status {
		log.Printf("🔄 [SESSION] %s: %s -> %s (v%d)", sessionID, current.Status, next.Status, next.Version)
	}
	return next, nil
}

// UpdateStatus moves the session along the state machine under the same CAS discipline
func (m *SessionManager) UpdateStatus(ctx context.Context, sessionID string, expectedVersion int64, status models.SessionStatus) (*models.Session, error) {
	return m.UpdateSummary(ctx, sessionID, expectedVersion, models.SessionDelta{}.WithStatus(status))
}

// SweepResult counts what one ExpireDue pass did
type SweepResult struct {
	Expired int // non-terminal sessions moved to EXPIRED
	Retired int // RESOLVED sessions dropped from the indexes
	Skipped int // touched concurrently, left for the next pass
}

// ExpireDue is the TTL sweep and the only path to EXPIRED. It handles at most
// batch sessions whose deadline has passed.
func (m *SessionManager) ExpireDue(ctx context.Context, batch int) (SweepResult, error) {
	var result SweepResult
	now := m.now()

	opCtx, cancel := m.opContext(ctx)
	due, err := m.store.ListExpired(opCtx, now, batch)
	cancel()
	if err != nil {
		return result, fmt.Errorf("failed to list expired sessions: %w", err)
	}

	for _, s := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !s.ExpiredAt(now) {
			result.Skipped++
			continue
		}

		switch {
		case s.Status.Terminal():
			opCtx, cancel := m.opContext(ctx)
			err := m.store.Retire(opCtx, s)
			cancel()
			if err != nil {
				return result, fmt.Errorf("failed to retire session %s: %w", s.SessionID, err)
			}
			result.Retired++

		default:
			next := s.Clone()
			next.Status = models.StatusExpired
			next.Version = s.Version + 1

			opCtx, cancel := m.opContext(ctx)
			err := m.store.CompareAndSwap(opCtx, next, s.Version)
			cancel()
			if err != nil {
				if models.IsRetryable(err) {
					result.Skipped++
					continue
				}
				return result, fmt.Errorf("failed to expire session %s: %w", s.SessionID, err)
			}
			m.metrics.RecordMutation(next.Status)
			result.Expired++
		}
	}

	m.metrics.RecordSweep(result.Expired, result.Retired)
	return result, nil
}
