package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	// CredentialSecret derives the AES key protecting marketplace tokens at rest.
	CredentialSecret string

	Marketplace MarketplaceConfig
	Queue       QueueConfig
}

// MarketplaceConfig configures the single external marketplace integration.
type MarketplaceConfig struct {
	BaseURL           string
	ClientID          string
	ClientSecret      string
	WebhookURL        string
	PlatformHookURL   string
	VerificationToken string
	RequestTimeout    time.Duration
	SupportsRevise    bool
}

// QueueConfig controls the event worker pool.
type QueueConfig struct {
	Workers      int
	BufferSize   int
	MaxRetries   int
	StuckTimeout time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "shelfsync"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "shelfsync"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		CredentialSecret: strings.TrimSpace(getenv("CREDENTIAL_SECRET", "")),

		Marketplace: MarketplaceConfig{
			BaseURL:           strings.TrimRight(getenv("MARKETPLACE_BASE_URL", ""), "/"),
			ClientID:          strings.TrimSpace(getenv("MARKETPLACE_CLIENT_ID", "")),
			ClientSecret:      strings.TrimSpace(getenv("MARKETPLACE_CLIENT_SECRET", "")),
			WebhookURL:        strings.TrimSpace(getenv("MARKETPLACE_WEBHOOK_URL", "")),
			PlatformHookURL:   strings.TrimSpace(getenv("MARKETPLACE_PLATFORM_HOOK_URL", "")),
			VerificationToken: strings.TrimSpace(getenv("MARKETPLACE_VERIFICATION_TOKEN", "")),
			RequestTimeout:    getenvDuration("MARKETPLACE_REQUEST_TIMEOUT", 30*time.Second),
			SupportsRevise:    getenvBool("MARKETPLACE_SUPPORTS_REVISE", true),
		},
		Queue: QueueConfig{
			Workers:      getenvInt("QUEUE_WORKERS", 8),
			BufferSize:   getenvInt("QUEUE_BUFFER_SIZE", 256),
			MaxRetries:   getenvInt("QUEUE_MAX_RETRIES", 5),
			StuckTimeout: getenvDuration("QUEUE_STUCK_TIMEOUT", 10*time.Minute),
		},
	}
}

// Module provides Config to the fx graph.
var Module = fx.Module("config", fx.Provide(Load))

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
