// Package config loads runtime configuration from the environment into a
// single struct that is constructed once in main and passed by injection.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Storage backend selectors.
const (
	BackendDisk = "disk"
	BackendS3   = "s3"
)

// Config carries every tunable the service needs. There is no package-level
// cached instance; main builds one and hands it to each component.
type Config struct {
	Addr        string
	DatabaseURL string
	BaseURL     string

	StorageBackend string
	StorageDir     string
	MaxSizeBytes   int64
	ChunkSize      int

	RetentionDays int
	InviteTTL     time.Duration
	SessionTTL    time.Duration
	SweepInterval time.Duration // 0 disables the background sweep

	SessionCookie string
	CSRFCookie    string
	CookieSecure  bool

	SessionSecret  string
	BootstrapToken string // empty disables the bootstrap endpoint

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
}

// Load reads configuration from the environment. It fails when required
// secrets are missing or numeric values do not parse; defaults mirror the
// shipped deployment.
func Load() (Config, error) {
	cfg := Config{
		Addr:           getenvDefault("ZT_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		BaseURL:        getenvDefault("ZT_BASE_URL", "http://localhost:8080"),
		StorageBackend: getenvDefault("ZT_STORAGE_BACKEND", BackendDisk),
		StorageDir:     getenvDefault("ZT_STORAGE_DIR", "storage"),
		SessionCookie:  getenvDefault("ZT_SESSION_COOKIE", "zt_session"),
		CSRFCookie:     getenvDefault("ZT_CSRF_COOKIE", "zt_csrf"),
		CookieSecure:   os.Getenv("ZT_COOKIE_SECURE") == "true",
		SessionSecret:  os.Getenv("ZT_SESSION_SECRET"),
		BootstrapToken: os.Getenv("ZT_BOOTSTRAP_TOKEN"),
		S3Endpoint:     os.Getenv("ZT_S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("ZT_S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("ZT_S3_SECRET_KEY"),
		S3Bucket:       os.Getenv("ZT_S3_BUCKET"),
	}

	var err error
	if cfg.MaxSizeBytes, err = getenvInt64("ZT_MAX_SIZE_BYTES", 5<<30); err != nil {
		return Config{}, err
	}
	chunk, err := getenvInt64("ZT_CHUNK_SIZE", 4<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkSize = int(chunk)

	retention, err := getenvInt64("ZT_RETENTION_DAYS", 10)
	if err != nil {
		return Config{}, err
	}
	cfg.RetentionDays = int(retention)

	inviteHours, err := getenvInt64("ZT_INVITE_TTL_HOURS", 72)
	if err != nil {
		return Config{}, err
	}
	cfg.InviteTTL = time.Duration(inviteHours) * time.Hour
	if cfg.SessionTTL, err = getenvDuration("ZT_SESSION_TTL", 12*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = getenvDuration("ZT_SWEEP_INTERVAL", 0); err != nil {
		return Config{}, err
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.SessionSecret == "" {
		return errors.New("ZT_SESSION_SECRET is required")
	}
	switch c.StorageBackend {
	case BackendDisk:
		if c.StorageDir == "" {
			return errors.New("ZT_STORAGE_DIR is required for the disk backend")
		}
	case BackendS3:
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" || c.S3Bucket == "" {
			return errors.New("s3 backend requires ZT_S3_ENDPOINT, ZT_S3_ACCESS_KEY, ZT_S3_SECRET_KEY and ZT_S3_BUCKET")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.StorageBackend)
	}
	if c.MaxSizeBytes <= 0 {
		return errors.New("ZT_MAX_SIZE_BYTES must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("ZT_CHUNK_SIZE must be positive")
	}
	if c.RetentionDays <= 0 {
		return errors.New("ZT_RETENTION_DAYS must be positive")
	}
	if c.InviteTTL <= 0 {
		return errors.New("ZT_INVITE_TTL_HOURS must be positive")
	}
	return nil
}

// Retention returns the upload retention window as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt64(key string, def int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
