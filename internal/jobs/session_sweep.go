package jobs

import (
	"context"
	"log"
	"time"

	"github.com/Harryoung/efka-sub000/internal/services"
)

const (
	defaultSweepBatch      = 200
	defaultSweepMaxBatches = 10
)

// Expirer is the slice of the session manager the sweep needs
type Expirer interface {
	ExpireDue(ctx context.Context, batch int) (services.SweepResult, error)
}

// SessionSweepJob moves overdue sessions to EXPIRED and retires finished ones
type SessionSweepJob struct {
	sessions   Expirer
	batch      int
	maxBatches int
}

// NewSessionSweepJob creates the TTL sweep; batch <= 0 uses the default
func NewSessionSweepJob(sessions Expirer, batch int) *SessionSweepJob {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &SessionSweepJob{sessions: sessions, batch: batch, maxBatches: defaultSweepMaxBatches}
}

// Run drains the expiry work-list a batch at a time
func (j *SessionSweepJob) Run(ctx context.Context) error {
	startTime := time.Now()
	var total services.SweepResult

	for i := 0; i < j.maxBatches; i++ {
		result, err := j.sessions.ExpireDue(ctx, j.batch)
		total.Expired += result.Expired
		total.Retired += result.Retired
		total.Skipped += result.Skipped
		if err != nil {
			log.Printf("❌ [SWEEP] Sweep stopped after %d expired, %d retired: %v", total.Expired, total.Retired, err)
			return err
		}
		// Skipped sessions stay on the work-list, so only a short batch means we are done
		if result.Expired+result.Retired+result.Skipped < j.batch || result.Expired+result.Retired == 0 {
			break
		}
	}

	if total.Expired+total.Retired+total.Skipped > 0 {
		log.Printf("🧹 [SWEEP] Expired %d, retired %d, skipped %d sessions in %v",
			total.Expired, total.Retired, total.Skipped, time.Since(startTime))
	}
	return nil
}
