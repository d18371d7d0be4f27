// Package app assembles one worker's application: persistence, services,
// sessions and the HTTP handler. Each worker owns its own App; nothing here
// is global apart from the Prometheus registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/eventboard/server/internal/api"
	"github.com/eventboard/server/internal/api/middleware"
	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/config"
	"github.com/eventboard/server/internal/domain/events"
	"github.com/eventboard/server/internal/domain/users"
	"github.com/eventboard/server/internal/metrics"
	"github.com/eventboard/server/internal/mutation"
	"github.com/eventboard/server/internal/session"
	"github.com/eventboard/server/internal/storage"
	"github.com/eventboard/server/internal/storage/postgres"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisPingTimeout    = 3 * time.Second
	dbCollectorInterval = 15 * time.Second
)

type Options struct {
	Config config.Config
	Logger zerolog.Logger
	Build  api.BuildInfo

	// Name labels this App's per-worker metrics. It defaults to "0".
	Name string

	// Store, when set, is used instead of opening one and is not closed by
	// the App. Workers share the memory store this way.
	Store storage.Store

	// Fault is told about handler panics.
	Fault middleware.FaultReporter

	// Go runs background loops. It defaults to a goroutine stopped by Close.
	Go func(fn func(ctx context.Context))

	// BcryptCost overrides the password hashing cost when positive.
	BcryptCost int
}

type App struct {
	Config     config.Config
	Logger     zerolog.Logger
	Store      storage.Store
	Events     *events.Service
	Users      *users.Service
	Tokens     *auth.JWTManager
	Sessions   *session.Resolver
	Operations *mutation.Router

	handler     http.Handler
	ownsStore   bool
	redis       *redis.Client
	limiter     *middleware.RateLimiter
	dbCollector *metrics.DBCollector
	cancel      context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New builds an App. On error everything opened so far is released.
func New(ctx context.Context, opts Options) (_ *App, err error) {
	cfg := opts.Config
	bgCtx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config: cfg,
		Logger: opts.Logger,
		cancel: cancel,
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Store = opts.Store
	if a.Store == nil {
		a.Store, err = storage.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.ownsStore = true
	}

	goFn := opts.Go
	if goFn == nil {
		goFn = func(fn func(context.Context)) { go fn(bgCtx) }
	}
	if repo, ok := a.Store.(*postgres.Repository); ok && a.ownsStore {
		name := opts.Name
		if name == "" {
			name = "0"
		}
		a.dbCollector = metrics.NewDBCollector(repo.Pool(), name)
		collector := a.dbCollector
		goFn(func(ctx context.Context) { collector.Start(ctx, dbCollectorInterval) })
	}

	revocations, err := a.openRevocations(ctx)
	if err != nil {
		return nil, err
	}

	var userOpts []users.Option
	if opts.BcryptCost > 0 {
		userOpts = append(userOpts, users.WithBcryptCost(opts.BcryptCost))
	}
	a.Events = events.NewService(a.Store, a.Logger)
	a.Users = users.NewService(a.Store.Users(), a.Logger, userOpts...)
	a.Tokens = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, cfg.Auth.Issuer)
	a.Sessions = session.NewResolver(a.Tokens, revocations, a.Store.Users(), a.Logger)
	a.Operations = mutation.NewRouter(a.Events, a.Users, a.Tokens, a.Sessions, a.Logger)
	a.limiter = middleware.NewRateLimiter(cfg.RateLimit)

	a.handler = api.NewRouter(api.RouterDeps{
		Config:      cfg,
		Logger:      a.Logger,
		Operations:  a.Operations,
		Sessions:    a.Sessions,
		Store:       a.Store,
		RateLimiter: a.limiter,
		Fault:       opts.Fault,
		Build:       opts.Build,
	})

	a.Logger.Info().
		Str("storage", cfg.Storage.Driver).
		Bool("redis", a.redis != nil).
		Bool("rate_limit", a.limiter != nil).
		Msg("application ready")
	return a, nil
}

func (a *App) openRevocations(ctx context.Context) (auth.RevocationStore, error) {
	if a.Config.Redis.URL == "" {
		a.Logger.Warn().Msg("REDIS_URL not set, logout cannot revoke tokens before they expire")
		return auth.NopRevocationStore{}, nil
	}

	redisOpts, err := redis.ParseURL(a.Config.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	a.redis = redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return auth.NewRedisRevocationStore(a.redis, a.Config.Redis.Namespace), nil
}

func (a *App) Handler() http.Handler {
	return a.handler
}

// Close releases the App's resources. It runs once; later calls return the
// first result.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		a.cancel()
		a.limiter.Stop()
		if a.dbCollector != nil {
			a.dbCollector.Stop()
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
		if a.Store != nil && a.ownsStore {
			a.Store.Close()
		}
		a.closeErr = errors.Join(errs...)
		a.Logger.Info().Msg("application closed")
	})
	return a.closeErr
}
