package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/Harryoung/efka-sub000/internal/services"
	"github.com/Harryoung/efka-sub000/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExpirer struct {
	results []services.SweepResult
	err     error
	calls   int
}

func (f *fakeExpirer) ExpireDue(ctx context.Context, batch int) (services.SweepResult, error) {
	f.calls++
	if f.calls > len(f.results) {
		return services.SweepResult{}, f.err
	}
	return f.results[f.calls-1], nil
}

func TestSessionSweepJob_DrainsBatches(t *testing.T) {
	exp := &fakeExpirer{results: []services.SweepResult{
		{Expired: 2, Retired: 1},
		{Expired: 1},
	}}
	job := NewSessionSweepJob(exp, 3)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 2, exp.calls)
}

func TestSessionSweepJob_StopsWhenOnlySkipped(t *testing.T) {
	exp := &fakeExpirer{results: []services.SweepResult{
		{Skipped: 3},
		{Skipped: 3},
	}}
	job := NewSessionSweepJob(exp, 3)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, exp.calls)
}

func TestSessionSweepJob_BoundedBatches(t *testing.T) {
	full := services.SweepResult{Expired: 1}
	results := make([]services.SweepResult, 50)
	for i := range results {
		results[i] = full
	}
	exp := &fakeExpirer{results: results}
	job := NewSessionSweepJob(exp, 1)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, defaultSweepMaxBatches, exp.calls)
}

func TestSessionSweepJob_Error(t *testing.T) {
	exp := &fakeExpirer{err: models.ErrStoreUnavailable}
	job := NewSessionSweepJob(exp, 0)
	assert.ErrorIs(t, job.Run(context.Background()), models.ErrStoreUnavailable)
}

func TestSessionSweepJob_WithManager(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cfg := services.DefaultSessionConfig()
	cfg.TTL = time.Hour
	st := store.NewMemoryStore(time.Hour)
	mgr := services.NewSessionManager(st, cfg, nil)
	mgr.SetClock(func() time.Time { return now })

	s, err := mgr.CreateSession(ctx, "alice", models.ChannelWeb, models.RoleEmployee)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	require.NoError(t, NewSessionSweepJob(mgr, 10).Run(ctx))

	stored, err := st.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)
	assert.Equal(t, s.Version+1, stored.Version)
}

type fakeProber struct {
	degraded bool
	err      error
	calls    int
}

func (f *fakeProber) Probe(ctx context.Context) error {
	f.calls++
	if f.err == nil {
		f.degraded = false
	}
	return f.err
}

func (f *fakeProber) Degraded() bool { return f.degraded }

func TestStoreProbeJob(t *testing.T) {
	ctx := context.Background()

	healthy := &fakeProber{}
	assert.NoError(t, NewStoreProbeJob(healthy, 0).Run(ctx))

	down := errors.New("connection refused")
	stillDown := &fakeProber{degraded: true, err: down}
	assert.NoError(t, NewStoreProbeJob(stillDown, time.Second).Run(ctx))

	failing := &fakeProber{err: down}
	assert.ErrorIs(t, NewStoreProbeJob(failing, time.Second).Run(ctx), down)

	recovered := &fakeProber{degraded: true}
	assert.NoError(t, NewStoreProbeJob(recovered, time.Second).Run(ctx))
	assert.False(t, recovered.Degraded())
}

type countingJob struct{ runs int }

func (c *countingJob) Run(ctx context.Context) error {
	c.runs++
	return nil
}

func TestJobScheduler(t *testing.T) {
	s, err := NewJobScheduler()
	require.NoError(t, err)
	defer s.Stop()

	job := &countingJob{}
	require.NoError(t, s.Register("session_sweep", "*/5 * * * *", job))
	require.NoError(t, s.Register("store_probe", "@every 30s", &countingJob{}))

	assert.Error(t, s.Register("session_sweep", "* * * * *", job))
	assert.Error(t, s.Register("broken", "every minute", job))

	require.NoError(t, s.RunNow(context.Background(), "session_sweep"))
	assert.Equal(t, 1, job.runs)
	assert.Error(t, s.RunNow(context.Background(), "missing"))

	status := s.GetStatus()
	require.Len(t, status, 2)
	assert.Equal(t, "session_sweep", status[0].Name)
	assert.True(t, status[0].NextRunTime.After(time.Now().Add(-time.Second)))

	s.Start()
	s.Stop()
}

func TestParseCron(t *testing.T) {
	_, err := ParseCron("0 3 * * *")
	assert.NoError(t, err)
	_, err = ParseCron("0 3 * *")
	assert.Error(t, err)
}
