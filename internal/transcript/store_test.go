package transcript

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	for _, content := range []string{"q1", "a1", "q2", "a2"} {
		require.NoError(t, s.Append(ctx, "ctx-1", Turn{Speaker: SpeakerUser, Content: content}))
	}
	require.NoError(t, s.Append(ctx, "ctx-2", Turn{Speaker: SpeakerUser, Content: "other"}))

	all, err := s.Load(ctx, "ctx-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "q1", all[0].Content)
	assert.Equal(t, int64(4), all[3].Seq)
	assert.Equal(t, "ctx-1", all[0].ContextKey)

	last, err := s.Load(ctx, "ctx-1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"q2", "a2"}, []string{last[0].Content, last[1].Content})

	none, err := s.Load(ctx, "missing", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	require.NoError(t, s.Append(ctx, "k", Turn{Content: "original"}))

	turns, err := s.Load(ctx, "k", 0)
	require.NoError(t, err)
	turns[0].Content = "mutated"

	again, err := s.Load(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore(time.Hour)
	assert.Error(t, s.Append(ctx, "k", Turn{Content: "x"}))
	_, err := s.Load(ctx, "k", 0)
	assert.Error(t, err)
}
