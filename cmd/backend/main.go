package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ztransfer/internal/auth"
	"ztransfer/internal/config"
	"ztransfer/internal/db"
	"ztransfer/internal/server"
	"ztransfer/internal/storage"
	"ztransfer/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("service=backend msg=%q err=%v", "config_invalid", err)
		os.Exit(1)
	}

	build := server.BuildInfo{
		Version: getenvDefault("ZT_VERSION", "dev"),
		Commit:  getenvDefault("ZT_COMMIT", "unknown"),
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Printf("service=backend msg=%q err=%v", "db_connect_failed", err)
		os.Exit(1)
	}
	defer func() { _ = pool.Close() }()

	log.Printf("service=backend msg=%q", "running_migrations")
	if err := db.RunMigrations(pool); err != nil {
		log.Printf("service=backend msg=%q err=%v", "migration_failed", err)
		os.Exit(1)
	}
	log.Printf("service=backend msg=%q", "migrations_complete")

	store, storageCheck, err := buildStore(cfg)
	if err != nil {
		log.Printf("service=backend msg=%q err=%v", "storage_init_failed", err)
		os.Exit(1)
	}

	authSvc := auth.NewService(pool, cfg.InviteTTL, cfg.SessionTTL)
	uploadSvc := upload.NewService(pool, store, cfg.Retention())

	srv := server.New(server.Config{
		Addr:           cfg.Addr,
		BaseURL:        cfg.BaseURL,
		Build:          build,
		DB:             pool,
		Auth:           authSvc,
		Uploads:        uploadSvc,
		CSRF:           auth.NewCSRF(cfg.SessionSecret),
		SessionCookie:  cfg.SessionCookie,
		CSRFCookie:     cfg.CSRFCookie,
		CookieSecure:   cfg.CookieSecure,
		SessionTTL:     cfg.SessionTTL,
		BootstrapToken: cfg.BootstrapToken,
		MaxSizeBytes:   cfg.MaxSizeBytes,
		StorageCheck:   storageCheck,
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if cfg.SweepInterval > 0 {
		go runSweep(sweepCtx, uploadSvc, cfg.SweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("service=backend msg=%q addr=%s version=%s commit=%s",
			"starting", cfg.Addr, build.Version, build.Commit)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("service=backend msg=%q signal=%s", "shutting_down", sig.String())
		stopSweep()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("service=backend msg=%q err=%v", "shutdown_error", err)
			os.Exit(1)
		}
		log.Printf("service=backend msg=%q", "shutdown_complete")
	case err := <-errCh:
		if err != nil {
			log.Printf("service=backend msg=%q err=%v", "server_error", err)
			os.Exit(1)
		}
	}
}

// buildStore constructs the configured blob store plus a readiness probe
// for it.
func buildStore(cfg config.Config) (storage.Store, func() error, error) {
	switch cfg.StorageBackend {
	case config.BackendS3:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			MaxSize:   cfg.MaxSizeBytes,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		store, err := storage.NewDiskStore(cfg.StorageDir, cfg.ChunkSize, cfg.MaxSizeBytes)
		if err != nil {
			return nil, nil, err
		}
		check := func() error {
			_, err := os.Stat(store.Root())
			return err
		}
		return store, check, nil
	}
}

// runSweep deletes expired uploads on a fixed interval until ctx is
// cancelled.
func runSweep(ctx context.Context, svc *upload.Service, interval time.Duration) {
	log.Printf("service=sweep msg=%q interval=%s", "started", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("service=sweep msg=%q", "stopped")
			return
		case <-ticker.C:
			n, err := svc.DeleteExpiredUploads(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("service=sweep msg=%q err=%v", "sweep_failed", err)
				continue
			}
			if n > 0 {
				log.Printf("service=sweep msg=%q removed=%d", "sweep_complete", n)
			}
		}
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
