package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration read from the environment.
type Server struct {
	Addr          string
	Environment   string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	PolicyPath    string
	PseudonymKey  string

	// ScreeningLists is a YAML file with the sanctions and PEP lists.
	ScreeningLists string

	Database DatabaseConfig
	EntityDB EntityDBConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Ledger   LedgerConfig
	Log      LogConfig
	Jobs     JobsConfig
}

// DatabaseConfig configures the PostgreSQL index store. An empty URL selects
// the in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

// EntityDBConfig points at the business entity database the erasure and
// compliance engines operate on.
type EntityDBConfig struct {
	DSN string
}

// RedisConfig configures the SCA counters and device registry.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit record sink. No brokers disables it.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// LedgerConfig selects the ledger backend: memory, file or postgres.
type LedgerConfig struct {
	Backend          string
	FilePath         string
	FailureThreshold int
	Cooldown         time.Duration
}

// LogConfig configures structured logging and optional file rotation.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// JobsConfig holds cron specs for the batch jobs. An empty spec disables a job.
type JobsConfig struct {
	RetentionSweep  string
	ComplianceScan  string
	ErasureExecutor string
	LedgerReconcile string
	LedgerVerify    string
	StaleErasure    time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}
	pseudonymKey := os.Getenv("PSEUDONYM_KEY")
	if pseudonymKey == "" {
		pseudonymKey = "dev-pseudonym-key-change-in-production"
	}

	return Server{
		Addr:           getEnv("TRUSTLEDGER_ADDR", ":8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		JWTSigningKey:  jwtSigningKey,
		JWTIssuer:      getEnv("JWT_ISSUER", "trustledger"),
		JWTAudience:    getEnv("JWT_AUDIENCE", "trustledger-api"),
		PolicyPath:     os.Getenv("POLICY_PATH"),
		PseudonymKey:   pseudonymKey,
		ScreeningLists: os.Getenv("SCREENING_LISTS"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			Migrate:         getEnv("DATABASE_MIGRATE", "true") == "true",
		},
		EntityDB: EntityDBConfig{
			DSN: getEnv("ENTITY_DB_DSN", "file:entities.db?_foreign_keys=on"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:  splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:    getEnv("KAFKA_AUDIT_TOPIC", "trustledger.audit-records"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "trustledger"),
		},
		Ledger: LedgerConfig{
			Backend:          getEnv("LEDGER_BACKEND", "memory"),
			FilePath:         getEnv("LEDGER_FILE", "data/ledger.jsonl"),
			FailureThreshold: getInt("LEDGER_BREAKER_FAILURES", 5),
			Cooldown:         getDuration("LEDGER_BREAKER_COOLDOWN", 30*time.Second),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getInt("LOG_MAX_BACKUPS", 7),
			MaxAgeDays: getInt("LOG_MAX_AGE_DAYS", 30),
		},
		Jobs: JobsConfig{
			RetentionSweep:  getEnv("JOB_RETENTION_SWEEP", "@daily"),
			ComplianceScan:  getEnv("JOB_COMPLIANCE_SCAN", "0 2 * * *"),
			ErasureExecutor: getEnv("JOB_ERASURE_EXECUTOR", "@every 5m"),
			LedgerReconcile: getEnv("JOB_LEDGER_RECONCILE", "@every 1m"),
			LedgerVerify:    getEnv("JOB_LEDGER_VERIFY", "@hourly"),
			StaleErasure:    getDuration("ERASURE_STALE_AFTER", 30*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
