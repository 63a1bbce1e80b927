package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
)

// BackoffCalculator computes retry delays with exponential backoff and jitter
type BackoffCalculator struct {
	initialDelay  time.Duration
	maxDelay      time.Duration
	multiplier    float64
	jitterPercent int
}

// NewBackoffCalculator creates a calculator with specified parameters
func NewBackoffCalculator(initialDelay, maxDelay time.Duration, multiplier float64, jitterPercent int) *BackoffCalculator {
	if initialDelay <= 0 {
		initialDelay = 5 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 100 * time.Millisecond
	}
	if multiplier <= 0 {
		multiplier = 2.0
	}
	if jitterPercent < 0 {
		jitterPercent = 50
	}

	return &BackoffCalculator{
		initialDelay:  initialDelay,
		maxDelay:      maxDelay,
		multiplier:    multiplier,
		jitterPercent: jitterPercent,
	}
}

// NextDelay calculates the delay for the given attempt number (0-indexed)
func (b *BackoffCalculator) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}

	// Jitter spreads writers that lost the same race
	if b.jitterPercent > 0 {
		jitterRange := delay * float64(b.jitterPercent) / 100.0
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = float64(b.initialDelay)
	}
	return time.Duration(delay)
}

// DeltaBuilder computes the change to apply against the freshest known record.
// It is called once per attempt and must not have side effects beyond building the delta.
type DeltaBuilder func(current *models.Session) (models.SessionDelta, error)

// Mutate runs the optimistic update loop: read, build a delta, submit it with the
// read version, and on a version conflict rebuild against the record the conflict
// carried. Store timeouts are retried the same way. Anything else returns at once.
func (m *SessionManager) Mutate(ctx context.Context, sessionID string, build DeltaBuilder) (*models.Session, error) {
	var (
		current *models.Session
		lastErr error
	)

	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := m.wait(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		if current == nil {
			s, err := m.GetSession(ctx, sessionID)
			if err != nil {
				if models.IsRetryable(err) {
					lastErr = err
					continue
				}
				return nil, err
			}
			current = s
		}

		delta, err := build(current.Clone())
		if err != nil {
			return nil, err
		}

		updated, err := m.UpdateSummary(ctx, sessionID, current.Version, delta)
		if err == nil {
			return updated, nil
		}
		if !models.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		m.metrics.RecordRetry(err)

		var conflict *models.VersionConflictError
		if errors.As(err, &conflict) && conflict.Current != nil {
			current = conflict.Current
		} else {
			current = nil
		}
	}

	m.metrics.RecordExhausted()
	return nil, fmt.Errorf("%w: session %s after %d attempts: %w",
		models.ErrConcurrentUpdateExhausted, sessionID, m.cfg.MaxAttempts, lastErr)
}

// MutateStatus moves a session to status under the retry loop
func (m *SessionManager) MutateStatus(ctx context.Context, sessionID string, status models.SessionStatus) (*models.Session, error) {
	return m.Mutate(ctx, sessionID, func(*models.Session) (models.SessionDelta, error) {
		return models.SessionDelta{}.WithStatus(status), nil
	})
}

func (m *SessionManager) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(m.backoff.NextDelay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
