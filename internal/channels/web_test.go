package channels

import (
	"context"
	"testing"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/Harryoung/efka-sub000/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWebAdapter(t *testing.T) (*WebAdapter, *auth.LocalJWTAuth) {
	t.Helper()
	tokens, err := auth.NewLocalJWTAuth("web-secret", time.Hour)
	require.NoError(t, err)
	return NewWebAdapter(tokens, time.Hour), tokens
}

func TestWebAdapter_ParseMessage(t *testing.T) {
	w, _ := newTestWebAdapter(t)

	msg, err := w.ParseMessage([]byte(`{"user_id":" alice ","text":"How do I reset VPN?","session_id":"s1"}`))
	require.NoError(t, err)
	assert.Equal(t, models.ChannelWeb, msg.Channel)
	assert.Equal(t, "alice", msg.UserID)
	assert.Equal(t, "s1", msg.SessionID)
	assert.NotEmpty(t, msg.MessageID)

	msg, err = w.ParseMessage([]byte(`{"message_id":"m-1","user_id":"alice","text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "m-1", msg.MessageID)

	_, err = w.ParseMessage([]byte(`{"user_id":"alice","text":"  "}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = w.ParseMessage([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestWebAdapter_VerifySignature(t *testing.T) {
	w, tokens := newTestWebAdapter(t)
	token, err := tokens.IssueToken("alice", "Alice")
	require.NoError(t, err)

	body := []byte(`{"user_id":"alice","text":"hi"}`)
	assert.True(t, w.VerifySignature(body, "Bearer "+token))

	// A valid token cannot speak for someone else
	assert.False(t, w.VerifySignature([]byte(`{"user_id":"bob","text":"hi"}`), "Bearer "+token))
	assert.False(t, w.VerifySignature(body, token))
	assert.False(t, w.VerifySignature(body, "Bearer garbage"))

	sub, err := w.Subject("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestWebAdapter_Outbox(t *testing.T) {
	w, _ := newTestWebAdapter(t)
	ctx := context.Background()

	assert.Empty(t, w.Drain("alice"))

	for _, text := range []string{"first", "second"} {
		res, err := w.SendMessage(ctx, "alice", text)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Chunks)
	}
	_, err := w.SendMessage(ctx, "bob", "other")
	require.NoError(t, err)

	got := w.Drain("alice")
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "second", got[1].Content)
	assert.Empty(t, w.Drain("alice"))
	assert.Len(t, w.Drain("bob"), 1)
}

func TestWebAdapter_OutboxIsBounded(t *testing.T) {
	w, _ := newTestWebAdapter(t)
	for i := 0; i < maxOutboxMessages+5; i++ {
		_, err := w.SendMessage(context.Background(), "alice", "x")
		require.NoError(t, err)
	}
	assert.Len(t, w.Drain("alice"), maxOutboxMessages)
}
