package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harryoung/efka-sub000/internal/agent"
	"github.com/Harryoung/efka-sub000/internal/channels"
	"github.com/Harryoung/efka-sub000/internal/config"
	"github.com/Harryoung/efka-sub000/internal/database"
	"github.com/Harryoung/efka-sub000/internal/handlers"
	"github.com/Harryoung/efka-sub000/internal/jobs"
	"github.com/Harryoung/efka-sub000/internal/logging"
	"github.com/Harryoung/efka-sub000/internal/middleware"
	"github.com/Harryoung/efka-sub000/internal/services"
	"github.com/Harryoung/efka-sub000/internal/store"
	"github.com/Harryoung/efka-sub000/internal/transcript"
	"github.com/Harryoung/efka-sub000/pkg/auth"
	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting session routing engine...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, TTL: %s, scorer: %s, multi-instance: %v)",
		cfg.Port, cfg.SessionTTL, cfg.MatchScorer, cfg.MultiInstance)

	ctx := context.Background()
	metrics := services.NewMetrics(prometheus.DefaultRegisterer)

	// Session store: Redis when configured, in-process fallback for single-instance deployments
	sessionStore, redisClient := initSessionStore(ctx, cfg)
	sessionStore.OnModeChange(metrics.SetStoreDegraded)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Transcript store: MongoDB when configured
	var transcripts transcript.Store = transcript.NewMemoryStore(cfg.SessionTTL + store.DefaultRetention)
	if cfg.MongoURI != "" {
		mongoDB, err := database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Printf("⚠️  MongoDB unavailable, keeping transcripts in memory: %v", err)
		} else {
			defer mongoDB.Close(context.Background())
			if err := mongoDB.Initialize(ctx); err != nil {
				log.Printf("⚠️  Failed to create transcript indexes: %v", err)
			}
			transcripts = transcript.NewMongoStore(mongoDB, cfg.SessionTTL+store.DefaultRetention)
		}
	}

	sessionCfg := services.DefaultSessionConfig()
	sessionCfg.TTL = cfg.SessionTTL
	sessionCfg.OpTimeout = cfg.SessionStoreTimeout
	sessionCfg.MaxAttempts = cfg.SessionMaxAttempts
	sessionCfg.MaxKeyPoints = cfg.SessionMaxKeyPoints
	sessions := services.NewSessionManager(sessionStore, sessionCfg, metrics)

	scorer, err := services.NewScorer(cfg.MatchScorer)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	extractor := services.NewKeywordExtractor()
	matcher := services.NewDisambiguator(extractor, scorer, cfg.MatchThreshold)

	roster, err := config.LoadExperts(cfg.ExpertsFile)
	if err != nil {
		log.Fatalf("❌ Failed to load expert roster: %v", err)
	}
	experts, err := services.NewExpertDirectory(roster, extractor)
	if err != nil {
		log.Fatalf("❌ Invalid expert roster: %v", err)
	}
	if experts.Len() == 0 {
		log.Printf("⚠️  No experts configured (%s), escalations will be declined", cfg.ExpertsFile)
	}

	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
		log.Fatal("❌ OPENAI_API_KEY or OPENAI_BASE_URL is required")
	}
	responder := agent.NewOpenAIAgent(agent.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	}, transcripts)

	// Channels
	var webAdapter *channels.WebAdapter
	var adapters []channels.Adapter
	if cfg.WebJWTSecret != "" {
		tokens, err := auth.NewLocalJWTAuth(cfg.WebJWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		webAdapter = channels.NewWebAdapter(tokens, cfg.SessionTTL)
		adapters = append(adapters, webAdapter)
	}
	if cfg.TelegramBotToken != "" {
		adapters = append(adapters, channels.NewTelegramAdapter(channels.TelegramConfig{
			BotToken:    cfg.TelegramBotToken,
			SecretToken: cfg.TelegramSecretToken,
			ChunkDelay:  300 * time.Millisecond,
		}))
	}
	if cfg.DingTalkAppSecret != "" {
		adapters = append(adapters, channels.NewDingTalkAdapter(channels.DingTalkConfig{
			AppSecret:    cfg.DingTalkAppSecret,
			RobotWebhook: cfg.DingTalkRobotWebhook,
			RobotSecret:  cfg.DingTalkRobotSecret,
		}))
	}
	registry, err := channels.NewRegistry(adapters...)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if len(registry.Channels()) == 0 {
		log.Fatal("❌ No channel enabled: set WEB_JWT_SECRET, TELEGRAM_BOT_TOKEN or DINGTALK_APP_SECRET")
	}

	router := services.NewChannelRouter(sessions, matcher, experts, responder, registry, metrics, services.RouterConfig{
		Candidates:   cfg.MatchCandidates,
		DedupeWindow: cfg.DedupeWindow,
	})

	// Background jobs
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := jobScheduler.Register("session_sweep", cfg.SweepCron, jobs.NewSessionSweepJob(sessions, cfg.SweepBatch)); err != nil {
		log.Fatalf("❌ %v", err)
	}
	if redisClient != nil {
		if err := jobScheduler.Register("store_probe", cfg.ProbeCron, jobs.NewStoreProbeJob(sessionStore, cfg.SessionStoreTimeout*4)); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}
	jobScheduler.Start()

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "efka session router",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // the agent call runs inside the request
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prom := fiberprometheus.New("efka")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg.RateLimitPerMinute)
	app.Use(middleware.GlobalAPIRateLimiter(rateLimitConfig))
	senderLimiter := middleware.NewSenderLimiter(rateLimitConfig)
	log.Printf("🛡️  [RATE-LIMIT] Global=%d/min per IP, sender=%d/min", rateLimitConfig.GlobalAPIMax, rateLimitConfig.SenderPerMinute)

	var webHandler *handlers.WebHandler
	if webAdapter != nil {
		webHandler = handlers.NewWebHandler(webAdapter, router, sessions, senderLimiter)
	}
	handlers.Setup(app,
		handlers.NewHealthHandler(sessionStore, registry.Channels()),
		handlers.NewWebhookHandler(registry, router, senderLimiter),
		webHandler,
	)

	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("🔗 Webhooks: http://localhost:%s/webhooks/{%v}", cfg.Port, registry.Channels())

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down server...")

		jobScheduler.Stop()

		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// initSessionStore connects Redis and wraps it with the in-process fallback.
// Without REDIS_URL the engine runs on the in-process store alone, which is
// only valid for a single instance.
func initSessionStore(ctx context.Context, cfg *config.Config) (*store.FallbackStore, *redis.Client) {
	retention := store.DefaultRetention
	memory := store.NewMemoryStore(retention)
	allowFallback := !cfg.MultiInstance

	if cfg.RedisURL == "" {
		if cfg.MultiInstance {
			log.Fatal("❌ REDIS_URL is required when SESSION_STORE_MULTI_INSTANCE=true")
		}
		log.Println("⚠️  REDIS_URL not set, sessions live in process memory")
		return store.NewFallbackStore(nil, memory, true), nil
	}

	client, err := database.NewRedis(ctx, cfg.RedisURL, database.RedisOptions{
		ReadTimeout:  cfg.SessionStoreTimeout,
		WriteTimeout: cfg.SessionStoreTimeout,
	})
	if err != nil {
		if !allowFallback {
			log.Fatalf("❌ %v", err)
		}
		log.Printf("🚨 %v; starting degraded on the in-process store", err)
		// A client is still built so the probe job can notice Redis coming back
		opts, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Fatalf("❌ %v", parseErr)
		}
		client = redis.NewClient(opts)
		fallback := store.NewFallbackStore(store.NewRedisStore(client, cfg.RedisPrefix, retention), memory, true)
		if err := fallback.Probe(ctx); err != nil {
			log.Printf("⚠️  [SESSION-STORE] Startup probe of Redis failed, the probe job will keep retrying: %v", err)
		}
		return fallback, client
	}

	return store.NewFallbackStore(store.NewRedisStore(client, cfg.RedisPrefix, retention), memory, allowFallback), client
}
