package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
)

const (
	StoreGorm   = "gorm"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint      string
	OTLPProtocol      string
	OtelEnabled       bool
	OtelSamplingRatio float64
	LogLevel          string
	LogFormat         string

	// StoreBackend selects the maintenance store: gorm, memory or redis.
	StoreBackend string

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
	// DBSlowQuery is the duration above which statements are logged at warn.
	DBSlowQuery time.Duration

	Redis     RedisConfig
	Auth      AuthConfig
	CORS      CORSConfig
	MQTT      MQTTConfig
	Reconcile ReconcileConfig
	RateLimit RateLimitConfig
	Bootstrap BootstrapConfig
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type AuthConfig struct {
	JWTSecret   string
	Issuer      string
	Audience    string
	DefaultRole string
	ClockSkew   time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

func (c MQTTConfig) Enabled() bool {
	return strings.TrimSpace(c.Broker) != ""
}

type ReconcileConfig struct {
	Enabled  bool
	Schedule string
	LockTTL  time.Duration
}

type RateLimitConfig struct {
	Enabled    bool
	WriteRate  float64
	WriteBurst int
}

type BootstrapConfig struct {
	AdminSubject string
	AdminName    string
	AdminEmail   string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "cdulog"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		OTLPProtocol: strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OtelEnabled:  getenvBool("OTEL_ENABLED", false),
		LogLevel:     strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:    strings.ToLower(getenv("LOG_FORMAT", "json")),

		OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		StoreBackend:      normalizeStore(getenv("STORE_BACKEND", StoreGorm)),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "cdulog"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBSlowQuery:       getenvDuration("DATABASE_SLOW_QUERY", 200*time.Millisecond),

		Redis: RedisConfig{
			Addr:      strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password:  getenv("REDIS_PASSWORD", ""),
			DB:        getenvInt("REDIS_DB", 0),
			KeyPrefix: getenv("REDIS_KEY_PREFIX", "cdulog"),
		},
		Auth: AuthConfig{
			JWTSecret:   strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
			Issuer:      strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
			Audience:    strings.TrimSpace(getenv("AUTH_JWT_AUDIENCE", "")),
			DefaultRole: strings.ToLower(getenv("AUTH_DEFAULT_ROLE", "viewer")),
			ClockSkew:   getenvDuration("AUTH_CLOCK_SKEW", 30*time.Second),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getenv("CORS_ALLOWED_ORIGINS", "*")),
		},
		MQTT: MQTTConfig{
			Broker:      strings.TrimSpace(getenv("MQTT_BROKER", "")),
			ClientID:    getenv("MQTT_CLIENT_ID", "cdulog-api"),
			Username:    getenv("MQTT_USERNAME", ""),
			Password:    getenv("MQTT_PASSWORD", ""),
			TopicPrefix: strings.Trim(getenv("MQTT_TOPIC_PREFIX", "cdulog"), "/"),
			QoS:         byte(getenvInt("MQTT_QOS", 1)),
		},
		Reconcile: ReconcileConfig{
			Enabled:  getenvBool("RECONCILE_ENABLED", true),
			Schedule: getenv("RECONCILE_SCHEDULE", "*/15 * * * *"),
			LockTTL:  getenvDuration("RECONCILE_LOCK_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getenvBool("RATE_LIMIT_ENABLED", false),
			WriteRate:  getenvFloat("RATE_LIMIT_WRITE_RATE", 5),
			WriteBurst: getenvInt("RATE_LIMIT_WRITE_BURST", 20),
		},
		Bootstrap: BootstrapConfig{
			AdminSubject: strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_SUBJECT", "")),
			AdminName:    getenv("BOOTSTRAP_ADMIN_NAME", "Administrator"),
			AdminEmail:   strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_EMAIL", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case StoreMemory:
		return StoreMemory
	case StoreRedis:
		return StoreRedis
	default:
		return StoreGorm
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
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
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
