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

func TestRegistry(t *testing.T) {
	tokens, err := auth.NewLocalJWTAuth("k", time.Hour)
	require.NoError(t, err)
	web := NewWebAdapter(tokens, time.Hour)
	tg := NewTelegramAdapter(TelegramConfig{})

	reg, err := NewRegistry(tg, web, nil)
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{models.ChannelTelegram, models.ChannelWeb}, reg.Channels())

	a, ok := reg.Get(models.ChannelWeb)
	require.True(t, ok)
	assert.Equal(t, models.ChannelWeb, a.Channel())

	res, err := reg.Send(context.Background(), models.ChannelWeb, "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.UserID)
	assert.Len(t, web.Drain("alice"), 1)

	_, err = reg.Send(context.Background(), models.ChannelDingTalk, "staff-42", "hello")
	assert.Error(t, err)

	_, err = NewRegistry(web, web)
	assert.Error(t, err)
}
