package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderLimiter(t *testing.T) {
	l := NewSenderLimiter(&RateLimitConfig{SenderPerMinute: 1, SenderBurst: 2})

	assert.True(t, l.Allow("telegram", "42"))
	assert.True(t, l.Allow("telegram", "42"))
	assert.False(t, l.Allow("telegram", "42"))

	// Buckets are per sender and per channel
	assert.True(t, l.Allow("telegram", "43"))
	assert.True(t, l.Allow("web", "42"))

	var nilLimiter *SenderLimiter
	assert.True(t, nilLimiter.Allow("web", "x"))
}

func TestGlobalAPIRateLimiter(t *testing.T) {
	app := fiber.New()
	app.Use(GlobalAPIRateLimiter(&RateLimitConfig{GlobalAPIMax: 1, GlobalAPIExpiration: time.Minute}))
	app.Get("/api/x", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/api/x", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/x", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
