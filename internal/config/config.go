package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the JarHound server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Scanner  ScannerConfig
	Ingest   IngestConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// StorageConfig configures the S3 bucket where artifact bytes live.
type StorageConfig struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the S3 endpoint, for MinIO or localstack setups.
	Endpoint string
}

// ScannerConfig configures the external analyzer connection.
type ScannerConfig struct {
	// WSURL is the scanner's WebSocket endpoint, e.g. ws://localhost:8081/ws.
	WSURL   string
	Timeout time.Duration
}

// IngestConfig bounds what admission accepts.
type IngestConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

// WorkerConfig drives the scan scheduler.
type WorkerConfig struct {
	TickInterval   time.Duration
	MaxConcurrent  int
	LeaseTimeout   time.Duration
	StatusCacheTTL time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("JARHOUND_PORT", 8080),
			Env:  envString("JARHOUND_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Region:          envString("AWS_REGION", "us-east-1"),
			Bucket:          os.Getenv("AWS_S3_BUCKET"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Endpoint:        os.Getenv("AWS_S3_ENDPOINT"),
		},
		Scanner: ScannerConfig{
			WSURL:   envString("SCANNER_WS_URL", "ws://localhost:8081/ws"),
			Timeout: envDuration("SCANNER_TIMEOUT", 60*time.Second),
		},
		Ingest: IngestConfig{
			MaxFileSize:       envInt64("INGEST_MAX_FILE_SIZE", 20*1024*1024),
			AllowedExtensions: envStrings("INGEST_ALLOWED_EXTENSIONS", []string{".jar"}),
		},
		Worker: WorkerConfig{
			TickInterval:   envDuration("WORKER_TICK_INTERVAL", 5*time.Second),
			MaxConcurrent:  envInt("WORKER_MAX_CONCURRENT", 2),
			LeaseTimeout:   envDuration("WORKER_LEASE_TIMEOUT", 10*time.Minute),
			StatusCacheTTL: envDuration("WORKER_STATUS_CACHE_TTL", 30*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("AWS_S3_BUCKET is required")
	}

	if c.Scanner.WSURL == "" {
		return fmt.Errorf("SCANNER_WS_URL is required")
	}
	if !strings.HasPrefix(c.Scanner.WSURL, "ws://") && !strings.HasPrefix(c.Scanner.WSURL, "wss://") {
		return fmt.Errorf("SCANNER_WS_URL must start with ws:// or wss://, got %q", c.Scanner.WSURL)
	}

	if c.Worker.MaxConcurrent < 1 {
		return fmt.Errorf("WORKER_MAX_CONCURRENT must be at least 1, got %d", c.Worker.MaxConcurrent)
	}
	if c.Worker.TickInterval <= 0 {
		return fmt.Errorf("WORKER_TICK_INTERVAL must be positive, got %s", c.Worker.TickInterval)
	}
	if c.Worker.LeaseTimeout <= 0 {
		return fmt.Errorf("WORKER_LEASE_TIMEOUT must be positive, got %s", c.Worker.LeaseTimeout)
	}

	if c.Ingest.MaxFileSize <= 0 {
		return fmt.Errorf("INGEST_MAX_FILE_SIZE must be positive, got %d", c.Ingest.MaxFileSize)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envStrings(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
