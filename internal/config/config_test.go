package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://zt:zt@localhost:5432/zt")
	t.Setenv("ZT_SESSION_SECRET", "test-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.StorageBackend != BackendDisk {
		t.Errorf("StorageBackend = %q, want disk", cfg.StorageBackend)
	}
	if cfg.MaxSizeBytes != 5<<30 {
		t.Errorf("MaxSizeBytes = %d, want %d", cfg.MaxSizeBytes, int64(5<<30))
	}
	if cfg.ChunkSize != 4<<20 {
		t.Errorf("ChunkSize = %d, want %d", cfg.ChunkSize, 4<<20)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Errorf("SessionTTL = %s, want 12h", cfg.SessionTTL)
	}
	if cfg.InviteTTL != 72*time.Hour {
		t.Errorf("InviteTTL = %s, want 72h", cfg.InviteTTL)
	}
	if cfg.Retention() != 10*24*time.Hour {
		t.Errorf("Retention = %s, want 240h", cfg.Retention())
	}
	if cfg.SweepInterval != 0 {
		t.Errorf("SweepInterval = %s, want 0", cfg.SweepInterval)
	}
}

func TestLoad_MissingSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ZT_SESSION_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}

	t.Setenv("DATABASE_URL", "postgres://zt:zt@localhost:5432/zt")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when ZT_SESSION_SECRET is missing")
	}
}

func TestLoad_BadNumbers(t *testing.T) {
	setRequired(t)

	t.Setenv("ZT_MAX_SIZE_BYTES", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable ZT_MAX_SIZE_BYTES")
	}

	t.Setenv("ZT_MAX_SIZE_BYTES", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero ZT_MAX_SIZE_BYTES")
	}
}

func TestLoad_S3RequiresCredentials(t *testing.T) {
	setRequired(t)
	t.Setenv("ZT_STORAGE_BACKEND", "s3")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for s3 backend without credentials")
	}

	t.Setenv("ZT_S3_ENDPOINT", "minio:9000")
	t.Setenv("ZT_S3_ACCESS_KEY", "key")
	t.Setenv("ZT_S3_SECRET_KEY", "secret")
	t.Setenv("ZT_S3_BUCKET", "ztransfer")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with s3 credentials: %v", err)
	}
}

func TestLoad_Durations(t *testing.T) {
	setRequired(t)
	t.Setenv("ZT_SESSION_TTL", "30m")
	t.Setenv("ZT_SWEEP_INTERVAL", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %s, want 30m", cfg.SessionTTL)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("SweepInterval = %s, want 1h", cfg.SweepInterval)
	}

	t.Setenv("ZT_SESSION_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable ZT_SESSION_TTL")
	}
}

func TestLoad_InviteTTLHours(t *testing.T) {
	setRequired(t)
	t.Setenv("ZT_INVITE_TTL_HOURS", "24")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InviteTTL != 24*time.Hour {
		t.Errorf("InviteTTL = %s, want 24h", cfg.InviteTTL)
	}

	t.Setenv("ZT_INVITE_TTL_HOURS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero ZT_INVITE_TTL_HOURS")
	}
}
