package storage

import (
	"context"
	"fmt"

	"github.com/eventboard/server/internal/config"
	"github.com/eventboard/server/internal/domain/events"
	"github.com/eventboard/server/internal/domain/users"
	"github.com/eventboard/server/internal/storage/memory"
	"github.com/eventboard/server/internal/storage/postgres"
)

// Store groups data access by entity kind behind one persistence handle.
type Store interface {
	events.Repository
	Users() users.Repository

	Ping(ctx context.Context) error
	Close()
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*postgres.Repository)(nil)
)

// Open returns the store selected by cfg.Storage.Driver. A memory store is
// created fresh; callers that want workers to share one pass it in instead
// of calling Open.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		pool, err := postgres.Open(ctx, postgres.PoolConfig{
			URL:            cfg.Database.URL,
			MaxConnections: cfg.Database.MaxConnections,
			MinConnections: cfg.Database.MinConnections,
		})
		if err != nil {
			return nil, err
		}
		return postgres.NewRepository(pool)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}
