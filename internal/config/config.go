package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort    string
	DatabaseDSN string
	JWTSecret   string
	CORSOrigins string

	// TrustedProxies may set X-Forwarded-For; other peers are recorded by
	// their socket address.
	TrustedProxies []string

	LogLevel string
	LogDev   bool

	Currency string

	ProcessorBaseURL string
	ProcessorAPIKey  string
	ProcessorTimeout time.Duration
	WebhookSecret    string

	CollectionWorkers         int
	CollectionLockTTL         time.Duration
	RegenerateContractTimeout time.Duration
	ProrateFirstMonth         bool
	AuditBuffer               int
}

const defaultDSN = "host=localhost user=postgres password=postgres dbname=dojo port=5432 sslmode=disable"

func Load() *Config {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseDSN: getEnv("DATABASE_DSN", defaultDSN),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		TrustedProxies: getList("TRUSTED_PROXIES"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogDev:   getBool("LOG_DEV", false),

		Currency: strings.ToUpper(getEnv("CURRENCY", "EUR")),

		ProcessorBaseURL: getEnv("PROCESSOR_BASE_URL", ""),
		ProcessorAPIKey:  getEnv("PROCESSOR_API_KEY", ""),
		ProcessorTimeout: getDuration("PROCESSOR_TIMEOUT", 15*time.Second),
		WebhookSecret:    getEnv("PROCESSOR_WEBHOOK_SECRET", ""),

		CollectionWorkers:         getInt("COLLECTION_WORKERS", 4),
		CollectionLockTTL:         getDuration("COLLECTION_LOCK_TTL", 30*time.Minute),
		RegenerateContractTimeout: getDuration("REGENERATE_CONTRACT_TIMEOUT", 10*time.Second),
		ProrateFirstMonth:         getBool("BILLING_PRORATE_FIRST_MONTH", false),
		AuditBuffer:               getInt("AUDIT_BUFFER", 256),
	}

	if cfg.JWTSecret == "" {
		log.Fatal("[FATAL] JWT_SECRET is not set")
	}
	if len(cfg.JWTSecret) < 32 {
		log.Fatal("[FATAL] JWT_SECRET must be at least 32 characters")
	}
	if cfg.DatabaseDSN == defaultDSN {
		log.Println("[WARN] DATABASE_DSN uses the default value, set your own Postgres connection for production")
	}
	if cfg.CollectionWorkers < 1 {
		cfg.CollectionWorkers = 1
	}
	if cfg.ProcessorBaseURL == "" {
		log.Println("[WARN] PROCESSOR_BASE_URL is empty, live collection runs will fail every item as processing")
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("[WARN] %s=%q is not a number, using %d", key, v, def)
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("[WARN] %s=%q is not a duration, using %s", key, v, def)
	}
	return def
}
