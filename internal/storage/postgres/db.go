package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/eventboard/server/internal/domain/events"
	"github.com/eventboard/server/internal/domain/users"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig carries the connection settings for Open.
type PoolConfig struct {
	URL            string
	MaxConnections int
	MinConnections int
}

// Open creates a connection pool and verifies it with a ping.
func Open(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = int32(cfg.MinConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Repository is the Postgres implementation of the entity stores. All
// sub-repositories share the pool; Close releases it once.
type Repository struct {
	pool      *pgxpool.Pool
	closeOnce sync.Once
}

func NewRepository(pool *pgxpool.Pool) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres repository: pool is nil")
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Events() events.EventRepository {
	return &EventRepository{db: r.pool}
}

func (r *Repository) Participants() events.ParticipantRepository {
	return &ParticipantRepository{db: r.pool}
}

func (r *Repository) Categories() events.CategoryRepository {
	return &CategoryRepository{db: r.pool}
}

func (r *Repository) Users() users.Repository {
	return &UserRepository{db: r.pool}
}

func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) Close() {
	r.closeOnce.Do(r.pool.Close)
}
