package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/licensegate/internal/config"
	"github.com/MacJediWizard/licensegate/internal/db"
	"github.com/MacJediWizard/licensegate/internal/db/mongostore"
	"github.com/MacJediWizard/licensegate/internal/db/sqlite"
	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// backend is the union of the license store and the event log. Every
// storage driver implements both.
type backend interface {
	Driver() string
	Ping(ctx context.Context) error
	Health() map[string]any

	GetLicense(ctx context.Context, licenseKey string) (*models.License, error)
	ListLicenses(ctx context.Context) ([]*models.License, error)
	SetLicenseStatus(ctx context.Context, licenseKey string, status models.LicenseStatus) error
	EnsureLicense(ctx context.Context, license *models.License) (bool, error)

	AppendVerificationEvent(ctx context.Context, event *models.VerificationEvent) (int64, error)
	ListRecentVerificationEvents(ctx context.Context, filter models.EventFilter) ([]*models.VerificationEvent, error)
	CountVerificationEvents(ctx context.Context, filter models.EventFilter) (int64, error)
}

var (
	_ backend = (*sqlite.Store)(nil)
	_ backend = (*db.DB)(nil)
	_ backend = (*mongostore.Store)(nil)
)

const closeTimeout = 10 * time.Second

// openBackend connects the configured driver and prepares its schema. The
// returned func releases the connection.
func openBackend(ctx context.Context, cfg config.ServerConfig, logger zerolog.Logger) (backend, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close sqlite store")
			}
		}, nil

	case config.StorePostgres:
		database, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		if _, err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return database, database.Close, nil

	case config.StoreMongo:
		store, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				logger.Warn().Err(err).Msg("failed to close mongo store")
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// openPostgres connects without touching the schema.
func openPostgres(ctx context.Context, cfg config.ServerConfig, logger zerolog.Logger) (*db.DB, error) {
	return db.Open(ctx, cfg.DatabaseURL, db.PoolSize{
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	}, logger)
}

// openRedis returns nil when no REDIS_URL is configured.
func openRedis(ctx context.Context, rawURL string, logger zerolog.Logger) (*redis.Client, error) {
	if rawURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Msg("rate limiter using redis")
	return client, nil
}
