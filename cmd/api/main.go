package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"paysync/internal/auth"
	"paysync/internal/db"
	"paysync/internal/domain/storage"
	"paysync/internal/events"
	"paysync/internal/payments"
	"paysync/internal/ratelimiter"
	"paysync/internal/reconcile"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func envString(key, def string) string {
	if val, exists := os.LookupEnv(key); exists && val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return def
	}
	parsed, err := cast.ToIntE(val)
	if err != nil {
		fmt.Printf("Invalid %s, defaulting to %d\n", key, def)
		return def
	}
	return parsed
}

func envBool(key string, def bool) bool {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return def
	}
	parsed, err := cast.ToBoolE(val)
	if err != nil {
		fmt.Printf("Invalid %s, defaulting to %t\n", key, def)
		return def
	}
	return parsed
}

func envDuration(key string, def time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return def
	}
	parsed, err := cast.ToDurationE(val)
	if err != nil || parsed <= 0 {
		fmt.Printf("Invalid %s, defaulting to %s\n", key, def)
		return def
	}
	return parsed
}

// LoadRateLimiterConfig retrieves rate limiter settings from environment variables
func LoadRateLimiterConfig() ratelimiter.Config {
	return ratelimiter.Config{
		RequestsPerTimeFrame: envInt("RATELIMITER_REQUESTS_COUNT", 200),
		TimeFrame:            5 * time.Second,
		Enabled:              envBool("RATE_LIMITER_ENABLED", false),
	}
}

func loadConfig() config {
	return config{
		addr:   envString("ADDR", ":8080"),
		env:    envString("ENV", "development"),
		apiURL: envString("EXTERNAL_URL", "localhost:8080"),
		db: dbConfig{
			driver:       envString("DB_DRIVER", "postgres"),
			addr:         os.Getenv("DB_ADDR"),
			maxOpenConns: envInt("DB_MAX_OPEN_CONNS", 30),
			maxIdleTime:  envString("DB_MAX_IDLE_TIME", "15m"),
		},
		auth: authConfig{
			apiKey: os.Getenv("API_KEY"),
			basic: basicConfig{
				user: os.Getenv("AUTH_BASIC_USER"),
				pass: os.Getenv("AUTH_BASIC_PASS"),
			},
			token: tokenConfig{
				secret: os.Getenv("AUTH_TOKEN_SECRET"),
				exp:    time.Hour,
				iss:    envString("AUTH_TOKEN_ISS", "paysync"),
			},
		},
		stripe: stripeConfig{
			secretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
		processorTimeout: envDuration("PROCESSOR_TIMEOUT", 15*time.Second),
		sweeper: sweeperConfig{
			enabled:     envBool("SWEEPER_ENABLED", true),
			interval:    envDuration("SWEEPER_INTERVAL", 5*time.Minute),
			staleAfter:  envDuration("SWEEPER_STALE_AFTER", 15*time.Minute),
			batch:       envInt("SWEEPER_BATCH", 100),
			concurrency: envInt("SWEEPER_CONCURRENCY", 4),
		},
		amqp: amqpConfig{
			url:      os.Getenv("AMQP_URL"),
			exchange: envString("AMQP_EXCHANGE", "payments.events"),
		},
		rateLimiter: LoadRateLimiterConfig(),
	}
}

// NewLogger creates a new zap logger with color.
func NewLogger() (*zap.SugaredLogger, error) {
	// Configure the encoder to be a console encoder with color
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder // This adds color to log levels (INFO, WARN, ERROR)

	// Create a console encoder with the custom configuration
	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	// Create a log level (you can set your own level here)
	level := zapcore.InfoLevel

	// Use zapcore.NewCore to write logs to standard output (stdout) with color
	core := zapcore.NewCore(consoleEncoder, zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout)), level)

	// Create and return a new logger instance
	logger := zap.New(core)

	return logger.Sugar(), nil
}

// openStorage connects the configured backend, applies the schema and
// publishes its stats. The returned func releases the connection.
func openStorage(ctx context.Context, cfg dbConfig, logger *zap.SugaredLogger) (*storage.Container, func(), error) {
	switch cfg.driver {
	case "postgres":
		pool, err := db.New(cfg.addr, int32(cfg.maxOpenConns), cfg.maxIdleTime)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		expvar.Publish("database", expvar.Func(func() any {
			s := pool.Stat()
			return map[string]any{
				"total_conns":    s.TotalConns(),
				"idle_conns":     s.IdleConns(),
				"acquired_conns": s.AcquiredConns(),
				"max_conns":      s.MaxConns(),
			}
		}))
		logger.Info("database connection pool established")
		return storage.NewPostgres(pool), pool.Close, nil

	case "sqlite":
		path := cfg.addr
		if path == "" {
			path = "paysync.db"
		}
		sqlDB, err := db.OpenSQLite(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.MigrateSQLite(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		expvar.Publish("database", expvar.Func(func() any {
			return sqlDB.Stats()
		}))
		logger.Infow("sqlite database opened", "path", path)
		return storage.NewSQLite(sqlDB), func() { sqlDB.Close() }, nil

	case "memory":
		logger.Warn("using in-memory storage, payments are lost on restart")
		return storage.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.driver)
}

func newPublisher(cfg amqpConfig, logger *zap.SugaredLogger) events.Publisher {
	if cfg.url == "" {
		logger.Info("AMQP_URL not set, status change events are not published")
		return events.NopPublisher{}
	}
	pub, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
		URL:      cfg.url,
		Exchange: cfg.exchange,
	}, logger)
	if err != nil {
		// Events are best-effort; payments keep working without the broker.
		logger.Errorw("rabbitmq unavailable, status change events disabled", "error", err)
		return events.NopPublisher{}
	}
	return pub
}

var version = "1.0.0"

//	@title			Paysync API
//	@description	Payment state reconciliation service on top of Stripe Checkout.

//	@contact.name	API Support
//	@contact.url	http://www.swagger.io/support
//	@contact.email	support@swagger.io

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@BasePath					/v1
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
//	@description

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	cfg := loadConfig()

	// Logger
	logger, err := NewLogger()
	if err != nil {
		fmt.Println("Error creating logger:", err)
		return
	}
	defer logger.Sync()

	if cfg.stripe.secretKey == "" || cfg.stripe.webhookSecret == "" {
		logger.Fatal("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required")
	}
	if cfg.auth.apiKey == "" && cfg.auth.token.secret == "" {
		logger.Fatal("set API_KEY or AUTH_TOKEN_SECRET so callers can authenticate")
	}

	// Storage
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	container, closeStorage, err := openStorage(ctx, cfg.db, logger)
	cancel()
	if err != nil {
		logger.Fatal(err)
	}
	defer closeStorage()

	processor := payments.NewStripeAdapter(cfg.stripe.secretKey, cfg.stripe.webhookSecret, nil)
	publisher := newPublisher(cfg.amqp, logger)

	engine := reconcile.New(
		container.Payments,
		container.PayLogs,
		processor,
		publisher,
		logger,
		reconcile.Config{ProcessorTimeout: cfg.processorTimeout},
	)

	sweeper := reconcile.NewSweeper(engine, reconcile.SweeperConfig{
		Interval:    cfg.sweeper.interval,
		StaleAfter:  cfg.sweeper.staleAfter,
		Batch:       cfg.sweeper.batch,
		Concurrency: cfg.sweeper.concurrency,
	}, logger)

	// Rate limiter
	rateLimiter := ratelimiter.NewFixedWindowLimiter(
		cfg.rateLimiter.RequestsPerTimeFrame,
		cfg.rateLimiter.TimeFrame,
	)
	defer rateLimiter.Stop()

	// Authenticator
	authenticator := auth.NewJWTAuthenticator(
		cfg.auth.apiKey,
		cfg.auth.token.secret,
		cfg.auth.token.iss,
		cfg.auth.token.iss,
		cfg.auth.token.exp,
	)

	app := &application{
		config:        cfg,
		logger:        logger,
		engine:        engine,
		sweeper:       sweeper,
		publisher:     publisher,
		authenticator: authenticator,
		rateLimiter:   rateLimiter,
	}

	//Metrics collected http://localhost:8080/v1/debug/vars
	expvar.NewString("version").Set(version)
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.mount()

	if err := app.run(mux); err != nil {
		logger.Fatal(err)
	}
}
