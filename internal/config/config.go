package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration loaded from the environment.
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
	DBRunMigrations   bool

	Lock LockConfig

	SnowflakeNode int64

	// SchedulingConfigPath overrides the facility.yml search path.
	SchedulingConfigPath string
}

type LockConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	RetryInterval time.Duration
	WaitTimeout   time.Duration
}

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "facilitycore"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "facilitycore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBRunMigrations:   getenvBool("DATABASE_RUN_MIGRATIONS", true),

		Lock: LockConfig{
			Backend:       normalizeLockBackend(getenv("LOCK_BACKEND", LockBackendLocal)),
			RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       int(getenvInt64("REDIS_DB", 0)),
			TTL:           getenvDuration("LOCK_TTL", 10*time.Second),
			RetryInterval: getenvDuration("LOCK_RETRY_INTERVAL", 25*time.Millisecond),
			WaitTimeout:   getenvDuration("LOCK_WAIT_TIMEOUT", 3*time.Second),
		},

		SnowflakeNode:        getenvInt64("SNOWFLAKE_NODE", 1),
		SchedulingConfigPath: strings.TrimSpace(getenv("SCHEDULING_CONFIG_PATH", "")),
	}

	return cfg
}

func normalizeLockBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case LockBackendRedis:
		return LockBackendRedis
	default:
		return LockBackendLocal
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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
