package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/cleanstep/internal/config"
	"github.com/3leaps/cleanstep/internal/observability"
	"github.com/3leaps/cleanstep/pkg/provider"
	"github.com/3leaps/cleanstep/pkg/provider/file"
	"github.com/3leaps/cleanstep/pkg/provider/minio"
	"github.com/3leaps/cleanstep/pkg/provider/s3"
	"github.com/3leaps/cleanstep/pkg/registry"
	"github.com/3leaps/cleanstep/pkg/rundir"
	"github.com/3leaps/cleanstep/pkg/tracking"
)

// services bundles the registry, blob store and tracker built from config.
type services struct {
	backend string
	db      *registry.DB
	store   provider.BlobStore
	runs    *rundir.Store
	tracker *tracking.Client
}

func openServices(ctx context.Context, cfg *config.Config) (*services, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	log := observability.CLILogger

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	db, err := openRegistry(ctx, cfg.Registry)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	runs := rundir.NewStore(cfg.Runs.Dir)
	tracker, err := tracking.NewClient(tracking.Options{
		DB:     db,
		Store:  store,
		Runs:   runs,
		Prefix: cfg.Store.Prefix,
		Retry: tracking.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		},
		RateLimit: cfg.Store.RateLimit,
		Logger:    log,
	})
	if err != nil {
		_ = db.Close()
		_ = store.Close()
		return nil, err
	}

	log.Debug("Services ready",
		zap.Stringer("backend", store.Kind()),
		zap.String("registry_driver", string(db.Driver())),
		zap.String("runs_dir", runs.RootDir()))

	return &services{
		backend: cfg.Store.Backend,
		db:      db,
		store:   store,
		runs:    runs,
		tracker: tracker,
	}, nil
}

func (s *services) Close() error {
	return errors.Join(s.db.Close(), s.store.Close())
}

func openStore(ctx context.Context, cfg config.StoreConfig) (provider.BlobStore, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return file.New(file.Config{Root: cfg.Root})
	case config.BackendS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			Profile:         cfg.Profile,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			ForcePathStyle:  cfg.ForcePathStyle,
		})
	case config.BackendMinIO:
		return minio.New(ctx, minio.Config{
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKeyID,
			SecretKey:    cfg.SecretAccessKey,
			Region:       cfg.Region,
			UseSSL:       cfg.UseSSL,
			Bucket:       cfg.Bucket,
			EnsureBucket: true,
		})
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

func openRegistry(ctx context.Context, cfg config.RegistryConfig) (*registry.DB, error) {
	db, err := registry.Open(ctx, registry.Config{
		Driver:    registry.Driver(cfg.Driver),
		Path:      cfg.Path,
		URL:       cfg.URL,
		AuthToken: cfg.AuthToken,
	})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return db, nil
}
