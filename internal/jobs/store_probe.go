package jobs

import (
	"context"
	"log"
	"time"
)

// Prober is implemented by store.FallbackStore
type Prober interface {
	Probe(ctx context.Context) error
	Degraded() bool
}

// StoreProbeJob pings the primary session store so a degraded instance
// switches back once Redis answers again
type StoreProbeJob struct {
	store   Prober
	timeout time.Duration
}

// NewStoreProbeJob creates the probe job
func NewStoreProbeJob(store Prober, timeout time.Duration) *StoreProbeJob {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &StoreProbeJob{store: store, timeout: timeout}
}

// Run probes the primary store. A failed probe while degraded is expected and not an error.
func (j *StoreProbeJob) Run(ctx context.Context) error {
	wasDegraded := j.store.Degraded()

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	err := j.store.Probe(ctx)
	switch {
	case err == nil && wasDegraded:
		log.Println("✅ [PROBE] Primary session store recovered")
	case err != nil && wasDegraded:
		log.Printf("⏳ [PROBE] Primary session store still unreachable: %v", err)
		return nil
	case err != nil:
		log.Printf("⚠️  [PROBE] Primary session store probe failed: %v", err)
	}
	return err
}
