// Package store persists session records and the per-(user, role) activity index.
//
// Every implementation provides the same contract: CompareAndSwap is the only
// way to change an existing record and it is atomic per session.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
)

// Store is the session persistence contract
type Store interface {
	// Create inserts a brand-new record. It fails if the id already exists.
	Create(ctx context.Context, s *models.Session) error

	// Get returns the stored record, expired or not. models.ErrNotFound if absent.
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// CompareAndSwap writes next only if the stored version equals expectedVersion.
	// On mismatch it returns a *models.VersionConflictError carrying the stored record.
	CompareAndSwap(ctx context.Context, next *models.Session, expectedVersion int64) error

	// ListByOwner returns the records indexed under (userID, role), most recently active first.
	// limit <= 0 means no limit. Records are returned as stored; expiry filtering is the caller's.
	ListByOwner(ctx context.Context, userID string, role models.Role, limit int) ([]*models.Session, error)

	// ListExpired returns up to limit records whose expires_at is at or before now
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Session, error)

	// Retire removes a record from the owner index and the expiry work-list.
	// The record itself stays readable until its retention runs out.
	Retire(ctx context.Context, s *models.Session) error

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	// Name identifies the backend in logs and health output
	Name() string
}

// ErrAlreadyExists is returned by Create when the id is taken
var ErrAlreadyExists = errors.New("session already exists")

// DefaultRetention is how long a record outlives its expires_at before the backend drops it
const DefaultRetention = 10 * time.Minute

// recordTTL is the backend lifetime of a record: its own TTL window plus
// retention. An EXPIRED record is only kept for retention.
func recordTTL(s *models.Session, retention time.Duration) time.Duration {
	if s.Status == models.StatusExpired {
		return retention
	}
	window := s.ExpiresAt.Sub(s.LastActiveAt)
	if window < 0 {
		window = 0
	}
	return window + retention
}

// indexed reports whether a record belongs in the owner index and expiry work-list
func indexed(s *models.Session) bool {
	return s.Status != models.StatusExpired
}
