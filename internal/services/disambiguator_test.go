package services

import (
	"testing"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(id string, age time.Duration, keyPoints ...string) *models.Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Session{
		SessionID:    id,
		UserID:       "u1",
		Role:         models.RoleExpert,
		Status:       models.StatusActive,
		KeyPoints:    keyPoints,
		LastActiveAt: now.Add(-age),
		CreatedAt:    now.Add(-age),
		ExpiresAt:    now.Add(time.Hour),
	}
}

func kw(tokens ...string) Keywords {
	out := make(Keywords, len(tokens))
	for _, t := range tokens {
		out[t] = struct{}{}
	}
	return out
}

func TestScorers(t *testing.T) {
	reply := kw("vpn", "printer")
	cand := kw("vpn", "password")

	assert.InDelta(t, 0.5, CoverageScorer{}.Score(reply, cand), 1e-9)
	assert.InDelta(t, 1.0/3.0, JaccardScorer{}.Score(reply, cand), 1e-9)

	assert.Zero(t, CoverageScorer{}.Score(kw(), cand))
	assert.Zero(t, JaccardScorer{}.Score(reply, kw()))
}

func TestNewScorer(t *testing.T) {
	s, err := NewScorer("")
	require.NoError(t, err)
	assert.Equal(t, "coverage", s.Name())

	s, err = NewScorer(" Jaccard ")
	require.NoError(t, err)
	assert.Equal(t, "jaccard", s.Name())

	_, err = NewScorer("embedding")
	assert.Error(t, err)
}

func TestDisambiguator_Resolve(t *testing.T) {
	d := NewDisambiguator(nil, nil, 0.2)

	// Most recently active first, the way PendingSessions returns them
	s3 := candidate("s3", 1*time.Minute, "printer toner replacement")
	s2 := candidate("s2", 2*time.Minute, "travel expense 报销流程")
	s1 := candidate("s1", 3*time.Minute, "VPN password reset")
	candidates := []*models.Session{s3, s2, s1}

	t.Run("no candidates", func(t *testing.T) {
		_, err := d.Resolve("anything", nil)
		assert.ErrorIs(t, err, models.ErrNoPendingSession)
	})

	t.Run("single candidate", func(t *testing.T) {
		m, err := d.Resolve("completely unrelated", []*models.Session{s1})
		require.NoError(t, err)
		assert.Equal(t, "s1", m.Session.SessionID)
		assert.Equal(t, MatchSingle, m.Reason)
	})

	t.Run("content match beats recency", func(t *testing.T) {
		m, err := d.Resolve("For the VPN password, open the portal and click reset", candidates)
		require.NoError(t, err)
		assert.Equal(t, "s1", m.Session.SessionID)
		assert.Equal(t, MatchContent, m.Reason)
		assert.InDelta(t, 1.0, m.Score, 1e-9)
	})

	t.Run("content free reply falls back to newest", func(t *testing.T) {
		for _, reply := range []string{"satisfied", "满意", "Thanks!"} {
			m, err := d.Resolve(reply, candidates)
			require.NoError(t, err)
			assert.Equal(t, "s3", m.Session.SessionID, reply)
			assert.Equal(t, MatchRecency, m.Reason)
		}
	})

	t.Run("cjk content match", func(t *testing.T) {
		m, err := d.Resolve("报销流程在财务系统里提交", candidates)
		require.NoError(t, err)
		assert.Equal(t, "s2", m.Session.SessionID)
		assert.Equal(t, MatchContent, m.Reason)
	})

	t.Run("tie falls back to newest", func(t *testing.T) {
		a := candidate("a", time.Minute, "vpn setup")
		b := candidate("b", 2*time.Minute, "vpn setup")
		m, err := d.Resolve("vpn setup done", []*models.Session{a, b})
		require.NoError(t, err)
		assert.Equal(t, "a", m.Session.SessionID)
		assert.Equal(t, MatchRecency, m.Reason)
	})
}

func TestDisambiguator_Threshold(t *testing.T) {
	strict := NewDisambiguator(nil, CoverageScorer{}, 0.5)
	newer := candidate("newer", time.Minute, "printer toner")
	older := candidate("older", 2*time.Minute, "vpn password reset portal certificate")

	// One of five keywords: 0.2 does not clear 0.5
	m, err := strict.Resolve("the certificate", []*models.Session{newer, older})
	require.NoError(t, err)
	assert.Equal(t, "newer", m.Session.SessionID)
	assert.Equal(t, MatchRecency, m.Reason)

	_, ok := strict.BestContentMatch("the certificate", []*models.Session{newer, older})
	assert.False(t, ok)

	m, ok = strict.BestContentMatch("vpn password reset", []*models.Session{newer, older})
	require.True(t, ok)
	assert.Equal(t, "older", m.Session.SessionID)
}

func TestDisambiguator_UsesSummary(t *testing.T) {
	d := NewDisambiguator(nil, nil, 0.2)
	newer := candidate("newer", time.Minute)
	newer.Summary = "Q: printer toner"
	older := candidate("older", 2*time.Minute)
	older.Summary = "Q: laptop battery replacement"

	m, err := d.Resolve("battery replacement is covered by warranty", []*models.Session{newer, older})
	require.NoError(t, err)
	assert.Equal(t, "older", m.Session.SessionID)
}
