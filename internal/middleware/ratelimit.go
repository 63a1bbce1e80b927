package middleware

import (
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int           // Max requests per minute for all endpoints
	GlobalAPIExpiration time.Duration // Expiration window

	// Per-sender limits, keyed by channel and user id after the payload is parsed
	SenderPerMinute int
	SenderBurst     int
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Webhooks from Telegram/DingTalk arrive from a handful of IPs, keep this generous
		GlobalAPIMax:        600,
		GlobalAPIExpiration: 1 * time.Minute,

		SenderPerMinute: 30,
		SenderBurst:     10,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults.
// senderPerMinute <= 0 keeps the default.
func LoadRateLimitConfig(senderPerMinute int) *RateLimitConfig {
	config := DefaultRateLimitConfig()
	if senderPerMinute > 0 {
		config.SenderPerMinute = senderPerMinute
	}

	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}

	// Development mode: more lenient limits
	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax = 5000
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		Next: func(c *fiber.Ctx) bool {
			// never throttle probes
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// SenderLimiter is a token bucket per message sender
type SenderLimiter struct {
	limit   rate.Limit
	burst   int
	senders *sync.Map // map[string]*rate.Limiter
}

// NewSenderLimiter creates a per-sender limiter from the config
func NewSenderLimiter(config *RateLimitConfig) *SenderLimiter {
	perMinute := config.SenderPerMinute
	if perMinute <= 0 {
		perMinute = DefaultRateLimitConfig().SenderPerMinute
	}
	burst := config.SenderBurst
	if burst <= 0 {
		burst = 1
	}
	return &SenderLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		senders: &sync.Map{},
	}
}

// Allow reports whether the sender may send another message now
func (l *SenderLimiter) Allow(channel, userID string) bool {
	if l == nil {
		return true
	}
	allowed := l.getOrCreate(channel + ":" + userID).Allow()
	if !allowed {
		log.Printf("⚠️  [RATE-LIMIT] Sender limit reached for %s user %s", channel, userID)
	}
	return allowed
}

func (l *SenderLimiter) getOrCreate(key string) *rate.Limiter {
	if limiter, ok := l.senders.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	newLimiter := rate.NewLimiter(l.limit, l.burst)

	// Use the existing limiter if another goroutine created it first
	actual, _ := l.senders.LoadOrStore(key, newLimiter)
	return actual.(*rate.Limiter)
}
