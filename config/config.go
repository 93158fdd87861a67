package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Roles    RolesConfig
	Session  SessionConfig
	Events   EventsConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
}

// DatabaseConfig selects and configures the backing store.
type DatabaseConfig struct {
	Driver     string // postgres | sqlite
	URL        string
	SQLitePath string
	MaxConns   int32
}

// RedisConfig holds Redis connection settings. When disabled, pub/sub and
// token revocation stay in process and the ticket image queue is off.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

// AWSConfig holds credentials and the ticket image bucket. An empty bucket
// disables ticket image storage.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	TicketsBucket        string
	Endpoint             string // S3-compatible endpoint, e.g. MinIO
	PresignExpireMinutes int
}

// RolesConfig holds role resolution settings.
type RolesConfig struct {
	AdminEmails    []string
	ResolveTimeout time.Duration
}

// SessionConfig holds idle and scanning session settings.
type SessionConfig struct {
	IdleTimeout  time.Duration
	ScanDebounce time.Duration
	RecentLimit  int
}

// EventsConfig holds event directory settings.
type EventsConfig struct {
	Location *time.Location
}

// WorkerConfig tunes cmd/worker.
type WorkerConfig struct {
	QRSize      int
	DequeueWait time.Duration
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	loc, err := time.LoadLocation(getEnv("EVENTS_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("EVENTS_TIMEZONE: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:       getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSAllowedOrigins: splitTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			URL:        getEnv("DATABASE_URL", "postgres://localhost:5432/eventgate?sslmode=disable"),
			SQLitePath: getEnv("SQLITE_PATH", "eventgate.db"),
			MaxConns:   int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
			TTL:    getEnvDuration("JWT_TTL", 12*time.Hour),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			TicketsBucket:        getEnv("AWS_S3_TICKETS_BUCKET", ""),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Roles: RolesConfig{
			AdminEmails:    splitTrim(getEnv("ADMIN_EMAILS", ""), ","),
			ResolveTimeout: getEnvDuration("ROLE_RESOLVE_TIMEOUT", 4*time.Second),
		},
		Session: SessionConfig{
			IdleTimeout:  getEnvDuration("IDLE_TIMEOUT", 15*time.Minute),
			ScanDebounce: getEnvDuration("SCAN_DEBOUNCE", 3*time.Second),
			RecentLimit:  getEnvInt("SCAN_RECENT_LIMIT", 10),
		},
		Events: EventsConfig{
			Location: loc,
		},
		Worker: WorkerConfig{
			QRSize:      getEnvInt("TICKET_QR_SIZE", 512),
			DequeueWait: getEnvDuration("WORKER_DEQUEUE_WAIT", 5*time.Second),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER: unsupported driver %q", c.Database.Driver)
	}
	if c.JWT.TTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
