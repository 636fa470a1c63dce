package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"datashare/internal/server/auth"
	"datashare/internal/server/config"
	"datashare/internal/server/database"
	"datashare/internal/server/service"
	"datashare/internal/server/storage"
)

// registry is what the commands need from either database backend.
type registry interface {
	service.FileRegistry
	service.UserDirectory
	CreateUser(ctx context.Context, email string) (*database.User, error)
	ListUsers(ctx context.Context) ([]*database.User, error)
}

// backend bundles an open database with its repository.
type backend struct {
	repo    registry
	health  func(ctx context.Context) error
	migrate func(ctx context.Context) error
	close   func()
}

func (b *backend) HealthCheck(ctx context.Context) error {
	return b.health(ctx)
}

// openBackend connects to the configured database driver. Migrations are
// applied unless skipMigrations is set.
func openBackend(ctx context.Context, cfg *config.Config, skipMigrations bool) (*backend, error) {
	var b *backend

	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b = &backend{
			repo:    database.NewRepository(db),
			health:  db.HealthCheck,
			migrate: db.RunMigrations,
			close:   db.Close,
		}
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		db, err := database.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b = &backend{
			repo:    database.NewSQLiteRepository(db),
			health:  db.HealthCheck,
			migrate: db.RunMigrations,
			close:   db.Close,
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}

	if skipMigrations {
		return b, nil
	}
	if err := b.migrate(ctx); err != nil {
		b.close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database migrations complete", "driver", cfg.DatabaseDriver)
	return b, nil
}

// openStore initializes the configured blob backend.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendFilesystem:
		store := storage.NewFileSystemStore(cfg.StoragePath)
		if err := store.EnsureDir(); err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		slog.Info("file storage initialized", "backend", cfg.StorageBackend, "path", cfg.StoragePath)
		return store, nil
	case config.BackendS3:
		store, err := storage.NewS3Store(storage.S3Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		slog.Info("file storage initialized", "backend", cfg.StorageBackend, "bucket", cfg.S3Bucket)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func newEngine(cfg *config.Config, b *backend, store storage.Store) *service.Engine {
	return service.NewEngine(
		b.repo,
		b.repo,
		store,
		service.NewValidator(cfg.ForbiddenExtensions),
		service.NewBcryptHasher(cfg.BcryptCost),
		service.NewRecordCache(cfg.CacheSize, cfg.CacheTTL),
	)
}

// newVerifier prefers a shared HMAC secret and falls back to a JWKS endpoint.
func newVerifier(ctx context.Context, cfg *config.Config) (*auth.Verifier, error) {
	switch {
	case cfg.JWTSecret != "":
		return auth.NewHMACVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer), nil
	case cfg.JWKSURL != "":
		return auth.NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.JWTIssuer)
	default:
		return nil, errors.New("JWT_SECRET or JWKS_URL must be set")
	}
}
