package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
)

// timeoutThreshold is how many primary timeouts in a row count as the primary
// being unreachable. A blackholed Redis never refuses a connection, it only
// times out.
const timeoutThreshold = 3

// FallbackStore serves from a primary store and, when fallback is allowed,
// degrades to a secondary in-process store while the primary is unreachable.
//
// Degrading splits state per instance, so it is only enabled for
// single-instance deployments. Multi-instance deployments surface
// ErrStoreUnavailable instead.
type FallbackStore struct {
	primary       Store
	secondary     Store
	allowFallback bool
	degraded      atomic.Bool
	timeouts      atomic.Int32
	onModeChange  func(degraded bool)

	// mode is held shared by every operation and exclusively while sessions
	// written during degradation are handed back to the primary
	mode sync.RWMutex
}

// Exporter is implemented by secondaries whose records can be handed back to
// the primary on recovery
type Exporter interface {
	Export() []*models.Session
	Remove(sessionID string)
}

// NewFallbackStore wires primary and secondary. primary may be nil, in which
// case the store starts (and stays) degraded when fallback is allowed.
func NewFallbackStore(primary, secondary Store, allowFallback bool) *FallbackStore {
	f := &FallbackStore{
		primary:       primary,
		secondary:     secondary,
		allowFallback: allowFallback,
	}
	if primary == nil {
		f.degraded.Store(true)
	}
	return f
}

// OnModeChange registers a callback fired whenever the store degrades or recovers
func (f *FallbackStore) OnModeChange(fn func(degraded bool)) {
	f.onModeChange = fn
	fn(f.degraded.Load())
}

// Name reports the backend currently serving requests
func (f *FallbackStore) Name() string {
	if f.Degraded() {
		return f.secondary.Name() + " (degraded)"
	}
	return f.primary.Name()
}

// Degraded reports whether requests are being served by the in-process store
func (f *FallbackStore) Degraded() bool {
	return f.degraded.Load()
}

func (f *FallbackStore) active() Store {
	if f.Degraded() {
		if f.allowFallback {
			return f.secondary
		}
		return nil
	}
	return f.primary
}

func (f *FallbackStore) degrade(cause error) {
	if f.degraded.CompareAndSwap(false, true) {
		log.Printf("🚨 [SESSION-STORE] Primary store %s unreachable, serving sessions from in-process store (single-instance only): %v",
			f.primary.Name(), cause)
		if f.onModeChange != nil {
			f.onModeChange(true)
		}
	}
}

// unreachable records the outcome of a primary call and reports whether the
// primary should now be treated as down
func (f *FallbackStore) unreachable(err error) bool {
	switch {
	case errors.Is(err, models.ErrStoreUnavailable):
		return true
	case errors.Is(err, models.ErrStoreTimeout):
		return f.timeouts.Add(1) >= timeoutThreshold
	default:
		f.timeouts.Store(0)
		return false
	}
}

// Probe pings the primary and switches back to it when it answers. Sessions
// written to the secondary meanwhile are copied to the primary first; if that
// copy fails the store stays degraded.
func (f *FallbackStore) Probe(ctx context.Context) error {
	if f.primary == nil {
		return models.ErrStoreUnavailable
	}
	err := f.primary.Ping(ctx)
	if errors.Is(err, models.ErrStoreTimeout) {
		// The probe has a generous deadline of its own
		f.timeouts.Store(timeoutThreshold)
	}
	if err != nil {
		if f.unreachable(err) && f.allowFallback {
			f.degrade(err)
		}
		return err
	}
	f.timeouts.Store(0)
	if !f.Degraded() {
		return nil
	}

	f.mode.Lock()
	defer f.mode.Unlock()
	if err := f.handBack(ctx); err != nil {
		log.Printf("⚠️  [SESSION-STORE] Primary store %s answers but sessions could not be copied back, staying degraded: %v",
			f.primary.Name(), err)
		return err
	}
	if f.degraded.CompareAndSwap(true, false) {
		log.Printf("✅ [SESSION-STORE] Primary store %s reachable again, leaving degraded mode", f.primary.Name())
		if f.onModeChange != nil {
			f.onModeChange(false)
		}
	}
	return nil
}

// handBack copies every record the secondary holds into the primary and drops
// it from the secondary. Caller holds mode exclusively.
func (f *FallbackStore) handBack(ctx context.Context) error {
	exporter, ok := f.secondary.(Exporter)
	if !ok {
		return nil
	}
	records := exporter.Export()
	for _, s := range records {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreTimeout, err)
		}
		err := f.primary.Create(ctx, s)
		if errors.Is(err, ErrAlreadyExists) {
			err = f.overwrite(ctx, s)
		}
		if err != nil {
			return fmt.Errorf("failed to copy session %s to %s: %w", s.SessionID, f.primary.Name(), err)
		}
		exporter.Remove(s.SessionID)
	}
	if len(records) > 0 {
		log.Printf("🔁 [SESSION-STORE] Copied %d sessions from the in-process store back to %s", len(records), f.primary.Name())
	}
	return nil
}

// overwrite replaces an older primary copy of s. A newer primary copy wins.
func (f *FallbackStore) overwrite(ctx context.Context, s *models.Session) error {
	current, err := f.primary.Get(ctx, s.SessionID)
	if err != nil {
		return err
	}
	if current.Version >= s.Version {
		return nil
	}
	err = f.primary.CompareAndSwap(ctx, s, current.Version)
	var conflict *models.VersionConflictError
	if errors.As(err, &conflict) {
		return f.overwrite(ctx, s)
	}
	return err
}

// run executes op against the active store and retries once on the
// secondary when the primary turns out to be unreachable
func run[T any](f *FallbackStore, op func(Store) (T, error)) (T, error) {
	f.mode.RLock()
	defer f.mode.RUnlock()

	var zero T
	target := f.active()
	if target == nil {
		return zero, models.ErrStoreUnavailable
	}

	result, err := op(target)
	if target != f.primary {
		return result, err
	}
	if !f.unreachable(err) {
		return result, err
	}
	if !f.allowFallback {
		log.Printf("❌ [SESSION-STORE] Primary store %s unreachable and fallback disabled: %v", f.primary.Name(), err)
		return zero, err
	}
	f.degrade(err)
	return op(f.secondary)
}

// Create inserts into the active store
func (f *FallbackStore) Create(ctx context.Context, s *models.Session) error {
	_, err := run(f, func(st Store) (struct{}, error) {
		return struct{}{}, st.Create(ctx, s)
	})
	return err
}

// Get reads from the active store
func (f *FallbackStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return run(f, func(st Store) (*models.Session, error) {
		return st.Get(ctx, sessionID)
	})
}

// CompareAndSwap writes through the active store
func (f *FallbackStore) CompareAndSwap(ctx context.Context, next *models.Session, expectedVersion int64) error {
	_, err := run(f, func(st Store) (struct{}, error) {
		return struct{}{}, st.CompareAndSwap(ctx, next, expectedVersion)
	})
	return err
}

// ListByOwner queries the active store
func (f *FallbackStore) ListByOwner(ctx context.Context, userID string, role models.Role, limit int) ([]*models.Session, error) {
	return run(f, func(st Store) ([]*models.Session, error) {
		return st.ListByOwner(ctx, userID, role, limit)
	})
}

// ListExpired queries the active store
func (f *FallbackStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Session, error) {
	return run(f, func(st Store) ([]*models.Session, error) {
		return st.ListExpired(ctx, now, limit)
	})
}

// Retire updates the active store
func (f *FallbackStore) Retire(ctx context.Context, s *models.Session) error {
	_, err := run(f, func(st Store) (struct{}, error) {
		return struct{}{}, st.Retire(ctx, s)
	})
	return err
}

// Ping checks the active store
func (f *FallbackStore) Ping(ctx context.Context) error {
	_, err := run(f, func(st Store) (struct{}, error) {
		return struct{}{}, st.Ping(ctx)
	})
	return err
}
