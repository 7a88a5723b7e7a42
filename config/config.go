package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/vnmchuo/medcost/internal/features"
)

const (
	UserStoreSheetDB  = "sheetdb"
	UserStorePostgres = "postgres"
)

type Config struct {
	// Server
	Port         string // default: 8080
	CookieSecure bool

	// Database (optional unless USER_STORE=postgres)
	PostgresDSN   string
	RunMigrations bool

	// Cache, sessions, rate limiting
	RedisAddr  string
	SessionTTL time.Duration // default: 24h

	// SheetDB
	SheetDBUsersURL       string
	SheetDBPredictionsURL string
	SheetDBTimeout        time.Duration // default: 10s

	// Messaging (optional)
	NATSURL     string
	NATSSubject string

	UserStore string // "sheetdb" or "postgres"
	RunSeed   bool

	// Model
	ModelPath  string
	ScalerPath string

	// Pipeline
	USDToINRRate        decimal.Decimal
	UnknownRegionPolicy features.RegionPolicy
	RecordQueueSize     int

	// Rate Limiting (requests per minute)
	SigninRateLimit  int
	PredictRateLimit int

	// Observability
	LogLevel             string
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		PostgresDSN:           os.Getenv("POSTGRES_DSN"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		SheetDBUsersURL:       os.Getenv("SHEETDB_USERS_URL"),
		SheetDBPredictionsURL: os.Getenv("SHEETDB_PREDICTIONS_URL"),
		NATSURL:               os.Getenv("NATS_URL"),
		NATSSubject:           getEnv("NATS_SUBJECT", "predictions.created"),
		UserStore:             getEnv("USER_STORE", UserStoreSheetDB),
		ModelPath:             getEnv("MODEL_PATH", "artifacts/model.json"),
		ScalerPath:            getEnv("SCALER_PATH", "artifacts/scaler.json"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		OTELExporterType:      getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint:  getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		RunSeed:               os.Getenv("RUN_SEED") == "true",
		RunMigrations:         os.Getenv("RUN_MIGRATIONS") == "true",
		CookieSecure:          os.Getenv("COOKIE_SECURE") == "true",
	}

	var err error
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", "24h"); err != nil {
		return nil, err
	}
	if cfg.SheetDBTimeout, err = getDuration("SHEETDB_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.RecordQueueSize, err = getInt("RECORD_QUEUE_SIZE", "256"); err != nil {
		return nil, err
	}
	if cfg.SigninRateLimit, err = getInt("SIGNIN_RATE_LIMIT", "10"); err != nil {
		return nil, err
	}
	if cfg.PredictRateLimit, err = getInt("PREDICT_RATE_LIMIT", "60"); err != nil {
		return nil, err
	}

	rate, err := decimal.NewFromString(getEnv("USD_TO_INR_RATE", "83"))
	if err != nil {
		return nil, fmt.Errorf("invalid USD_TO_INR_RATE: %w", err)
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("invalid USD_TO_INR_RATE: must be positive")
	}
	cfg.USDToINRRate = rate

	policy, err := features.ParseRegionPolicy(getEnv("UNKNOWN_REGION_POLICY", string(features.RegionFallback)))
	if err != nil {
		return nil, fmt.Errorf("invalid UNKNOWN_REGION_POLICY: %w", err)
	}
	cfg.UnknownRegionPolicy = policy

	// Validation
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	switch cfg.UserStore {
	case UserStoreSheetDB:
		if cfg.SheetDBUsersURL == "" {
			return nil, fmt.Errorf("SHEETDB_USERS_URL is required when USER_STORE=sheetdb")
		}
	case UserStorePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required when USER_STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("invalid USER_STORE: %q (use sheetdb or postgres)", cfg.UserStore)
	}
	if cfg.RunMigrations && cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required when RUN_MIGRATIONS=true")
	}
	if cfg.RecordQueueSize <= 0 {
		return nil, fmt.Errorf("invalid RECORD_QUEUE_SIZE: must be positive")
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("invalid SESSION_TTL: must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key, fallback string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
