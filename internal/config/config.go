package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the process configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// TrustedProxies lists the proxy CIDRs whose X-Forwarded-For is honoured
	// when deriving the origin of anonymous callers.
	TrustedProxies []string

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	LedgerBackend string
	QuotaBackend  string

	// CommitTimeout bounds the detached commit that follows a successful
	// metered operation.
	CommitTimeout time.Duration

	Renewal   RenewalConfig
	Agent     AgentConfig
	RateLimit RateLimitConfig

	Bootstrap BootstrapConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address has been configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// TelemetryConfig covers logging and OTLP trace export.
type TelemetryConfig struct {
	LogLevel  string
	LogFormat string

	TracingEnabled bool
	OTLPEndpoint   string
	OTLPProtocol   string
	SamplingRatio  float64
}

type RenewalConfig struct {
	Enabled   bool
	Schedule  string
	BatchSize int
	LockTTL   time.Duration
}

type AgentConfig struct {
	UpstreamURL string
	Timeout     time.Duration
}

// RateLimitConfig throttles metered requests per caller (tokens per second).
type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

type BootstrapConfig struct {
	AdminAPIKey   string
	BillingAPIKey string
	GatewayAPIKey string
}

const (
	BackendDatabase = "database"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "creditgate"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		TrustedProxies:    parseList(getenv("TRUSTED_PROXIES", "")),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "creditgate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "creditgate.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OTLPEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		LedgerBackend: normalizeBackend(getenv("LEDGER_BACKEND", BackendDatabase), BackendDatabase),
		QuotaBackend:  normalizeBackend(getenv("QUOTA_BACKEND", BackendDatabase), BackendDatabase),
		CommitTimeout: getenvDuration("COMMIT_TIMEOUT", 5*time.Second),
		Renewal: RenewalConfig{
			Enabled:   getenvBool("RENEWAL_ENABLED", true),
			Schedule:  getenv("RENEWAL_SCHEDULE", "@every 1m"),
			BatchSize: getenvInt("RENEWAL_BATCH_SIZE", 100),
			LockTTL:   getenvDuration("RENEWAL_LOCK_TTL", 50*time.Second),
		},
		Agent: AgentConfig{
			UpstreamURL: strings.TrimRight(strings.TrimSpace(getenv("AGENT_UPSTREAM_URL", "")), "/"),
			Timeout:     getenvDuration("AGENT_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("RATE_LIMIT_ENABLED", false),
			Rate:    getenvFloat("RATE_LIMIT_RATE", 1),
			Burst:   getenvInt("RATE_LIMIT_BURST", 10),
		},
		Bootstrap: BootstrapConfig{
			AdminAPIKey:   strings.TrimSpace(getenv("ADMIN_API_KEY", "")),
			BillingAPIKey: strings.TrimSpace(getenv("BILLING_API_KEY", "")),
			GatewayAPIKey: strings.TrimSpace(getenv("GATEWAY_API_KEY", "")),
		},
	}

	// OTEL_ENABLED defaults to on in production.
	cfg.Telemetry.TracingEnabled = getenvBool("OTEL_ENABLED", cfg.IsProduction())

	return cfg
}

// IsDevelopment reports whether verbose request logging should be on.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// IsProduction reports whether the service runs in a production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeBackend(raw, def string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case BackendDatabase, "db", "sql":
		return BackendDatabase
	case BackendMemory:
		return BackendMemory
	case BackendRedis:
		return BackendRedis
	default:
		return def
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
