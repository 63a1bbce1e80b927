package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var configValidate = validator.New()

// Config holds all application configuration
type Config struct {
	Port        string `validate:"required,numeric"`
	Environment string
	RedisURL    string // empty runs on the in-process store only
	RedisPrefix string
	MongoURI    string // empty keeps transcripts in memory

	// Session engine
	SessionTTL          time.Duration `validate:"gt=0"`
	SessionStoreTimeout time.Duration `validate:"gt=0"`
	SessionMaxAttempts  int           `validate:"gte=1,lte=100"`
	SessionMaxKeyPoints int           `validate:"gte=1"`
	MultiInstance       bool          // disables degrading to the in-process store

	// Reply matching
	MatchScorer     string  `validate:"omitempty,oneof=coverage jaccard"`
	MatchThreshold  float64 `validate:"gte=0,lt=1"`
	MatchCandidates int     `validate:"gte=1,lte=50"`
	DedupeWindow    time.Duration

	// Agent
	OpenAIAPIKey  string
	OpenAIBaseURL string `validate:"omitempty,url"`
	OpenAIModel   string

	// Channels
	WebJWTSecret         string
	TelegramBotToken     string
	TelegramSecretToken  string
	DingTalkAppSecret    string
	DingTalkRobotWebhook string `validate:"omitempty,url"`
	DingTalkRobotSecret  string
	RateLimitPerMinute   int `validate:"gte=0"`

	// Jobs
	SweepCron   string `validate:"required"`
	ProbeCron   string `validate:"required"`
	SweepBatch  int    `validate:"gte=1"`
	ExpertsFile string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: getEnv("ENVIRONMENT", "development"),
		RedisURL:    getEnv("REDIS_URL", ""),
		RedisPrefix: getEnv("REDIS_PREFIX", "efka:"),
		MongoURI:    getEnv("MONGODB_URI", ""),

		SessionTTL:          getDurationEnv("SESSION_TTL", 24*time.Hour),
		SessionStoreTimeout: getDurationEnv("SESSION_STORE_TIMEOUT", 250*time.Millisecond),
		SessionMaxAttempts:  getIntEnv("SESSION_MAX_ATTEMPTS", 5),
		SessionMaxKeyPoints: getIntEnv("SESSION_MAX_KEY_POINTS", 10),
		MultiInstance:       getBoolEnv("SESSION_STORE_MULTI_INSTANCE", false),

		MatchScorer:     strings.ToLower(getEnv("MATCH_SCORER", "coverage")),
		MatchThreshold:  getFloatEnv("MATCH_THRESHOLD", 0.2),
		MatchCandidates: getIntEnv("MATCH_CANDIDATES", 5),
		DedupeWindow:    getDurationEnv("DEDUPE_WINDOW", 10*time.Minute),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", ""),

		WebJWTSecret:         getEnv("WEB_JWT_SECRET", ""),
		TelegramBotToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramSecretToken:  getEnv("TELEGRAM_SECRET_TOKEN", ""),
		DingTalkAppSecret:    getEnv("DINGTALK_APP_SECRET", ""),
		DingTalkRobotWebhook: getEnv("DINGTALK_ROBOT_WEBHOOK", ""),
		DingTalkRobotSecret:  getEnv("DINGTALK_ROBOT_SECRET", ""),
		RateLimitPerMinute:   getIntEnv("RATE_LIMIT_PER_MINUTE", 30),

		SweepCron:   getEnv("SWEEP_CRON", "* * * * *"),
		ProbeCron:   getEnv("PROBE_CRON", "@every 15s"),
		SweepBatch:  getIntEnv("SWEEP_BATCH", 200),
		ExpertsFile: getEnv("EXPERTS_FILE", "experts.yaml"),
	}
}

// Validate checks ranges and cron expressions
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for name, expr := range map[string]string{"SWEEP_CRON": c.SweepCron, "PROBE_CRON": c.ProbeCron} {
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, expr, err)
		}
	}
	if c.TelegramBotToken != "" && c.TelegramSecretToken == "" {
		return fmt.Errorf("TELEGRAM_SECRET_TOKEN is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT=production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("90s", "24h") or plain seconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
