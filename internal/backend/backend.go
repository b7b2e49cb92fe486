// Package backend opens the document store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/config"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/database"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/seed"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/store"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/store/postgres"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/store/redisstore"
)

// Open connects to the configured backend. The returned func releases the
// store and anything it owns.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	log = log.With(zap.String("backend", cfg.Store.Backend))

	switch cfg.Store.Backend {
	case config.BackendMemory:
		db := store.NewMemoryStore()
		log.Info("using in-memory store; data is lost on exit")
		return db, func() { _ = db.Close() }, nil

	case config.BackendPostgres:
		pool, err := database.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		db := postgres.New(pool, log)
		log.Info("connected to PostgreSQL", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))
		return db, func() {
			_ = db.Close()
			pool.Close()
		}, nil

	case config.BackendRedis:
		db, err := redisstore.Connect(ctx, cfg.Redis, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr()))
		return db, func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Preload fills an ephemeral store from the seed directory so a memory
// backed server starts with the demo data. Persistent backends are left to
// the seed command and report a zero Summary.
func Preload(ctx context.Context, cfg *config.Config, db store.Store, log *zap.Logger) (seed.Summary, error) {
	if cfg.Store.Persistent() {
		return seed.Summary{}, nil
	}

	files, err := seed.Discover(cfg.Seed.Dir)
	if err != nil {
		return seed.Summary{}, err
	}
	sum, err := seed.NewLoader(db, log).Run(ctx, files)
	if err != nil {
		return sum, fmt.Errorf("preload: %w", err)
	}
	log.Info("preloaded seed data",
		zap.String("dir", cfg.Seed.Dir),
		zap.Int("collections", sum.Collections),
		zap.Int("documents", sum.Documents),
		zap.Int("errors", sum.Errors),
	)
	return sum, nil
}
