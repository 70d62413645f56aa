// Package app opens the infrastructure selected by configuration. Both
// binaries share it so they always talk to the same store.
package app

import (
	"context"
	"fmt"

	"github.com/weiawesome/games-society/internal/cache"
	"github.com/weiawesome/games-society/internal/config"
	"github.com/weiawesome/games-society/internal/idgen"
	"github.com/weiawesome/games-society/internal/store"
	"github.com/weiawesome/games-society/pkg/database"
)

// OpenStore connects the document store named by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config, ids idgen.Generator) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemoryStore(store.WithIDGenerator(ids)), nil
	case "mongo":
		client, err := database.Connect(ctx, cfg.Store.Mongo)
		if err != nil {
			return nil, err
		}
		s, err := store.NewMongoStore(ctx, client, cfg.Store.Mongo.Database, ids)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// OpenCounters returns the Redis counter cache, or an in-process one when
// no Redis address is configured.
func OpenCounters(cfg *config.Config) (cache.CounterStore, error) {
	if cfg.Redis.Address == "" {
		return cache.NewMemoryCounterStore(), nil
	}
	return cache.NewRedisCounterStore(cfg.Redis)
}
