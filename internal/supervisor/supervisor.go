// Package supervisor runs the HTTP worker pool: it sizes the pool, keeps it
// at size by replacing faulted workers, and drains every worker on shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eventboard/server/internal/config"
	"github.com/eventboard/server/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrCrashLoop is returned by Serve when workers fault more often than the
// configured ceiling allows.
var ErrCrashLoop = errors.New("workers are crash looping")

// ErrWorkerFault is returned by Serve when the only worker of a
// single-worker pool faults.
var ErrWorkerFault = errors.New("worker faulted")

// Factory builds the application instance for a new worker. It may use w
// for its ID, logger and fault reporting.
type Factory func(ctx context.Context, w *Worker) (Instance, error)

type Options struct {
	Size           int
	DrainTimeout   time.Duration
	RestartInitial time.Duration
	RestartMax     time.Duration
	MaxCrashes     int
	CrashWindow    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Size:           PoolSizeFromConfig(cfg.Workers),
		DrainTimeout:   cfg.Workers.DrainTimeout,
		RestartInitial: cfg.Workers.RestartInitial,
		RestartMax:     cfg.Workers.RestartMax,
		MaxCrashes:     cfg.Workers.MaxCrashes,
		CrashWindow:    cfg.Workers.CrashWindow,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.Size < 1 {
		o.Size = 1
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 15 * time.Second
	}
	if o.RestartInitial <= 0 {
		o.RestartInitial = 100 * time.Millisecond
	}
	if o.RestartMax < o.RestartInitial {
		o.RestartMax = o.RestartInitial
	}
	if o.CrashWindow <= 0 {
		o.CrashWindow = time.Minute
	}
	return o
}

// WorkerStatus is a point-in-time view of one pool member.
type WorkerStatus struct {
	ID    int
	State State
}

type Supervisor struct {
	factory Factory
	opts    Options
	logger  zerolog.Logger
	backoff *backoff.ExponentialBackOff

	faults  chan *Worker
	respawn chan struct{}
	stopped chan struct{}
	stop    sync.Once

	mu       sync.Mutex
	nextID   int
	workers  map[int]*Worker
	retiring map[int]*Worker
	crashes  []time.Time
	drains   sync.WaitGroup
}

func New(factory Factory, opts Options, logger zerolog.Logger) *Supervisor {
	opts = opts.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.RestartInitial
	b.MaxInterval = opts.RestartMax
	b.MaxElapsedTime = 0
	b.Reset()

	return &Supervisor{
		factory:  factory,
		opts:     opts,
		logger:   logger.With().Str("component", "supervisor").Logger(),
		backoff:  b,
		faults:   make(chan *Worker),
		respawn:  make(chan struct{}),
		stopped:  make(chan struct{}),
		workers:  make(map[int]*Worker),
		retiring: make(map[int]*Worker),
	}
}

// Serve runs the pool on ln until ctx is cancelled, then drains every worker
// and returns nil. It returns early with ErrCrashLoop when the crash ceiling
// is hit, or with ErrWorkerFault when a single-worker pool loses its worker.
// Serve closes ln.
func (s *Supervisor) Serve(ctx context.Context, ln net.Listener) error {
	acc := newAcceptor(ln, s.logger)
	go acc.run()

	metrics.WorkersTarget.Set(float64(s.opts.Size))
	s.logger.Info().
		Int("workers", s.opts.Size).
		Str("addr", ln.Addr().String()).
		Msg("starting worker pool")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Size; i++ {
		g.Go(func() error {
			_, err := s.spawn(gctx, acc)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.shutdown(acc)
		return fmt.Errorf("start workers: %w", err)
	}
	s.logger.Info().Int("workers", s.opts.Size).Msg("worker pool ready")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("shutdown requested, draining workers")
			s.shutdown(acc)
			return nil

		case w := <-s.faults:
			if err := s.retire(w); err != nil {
				s.shutdown(acc)
				return err
			}

		case <-s.respawn:
			if _, err := s.spawn(ctx, acc); err != nil {
				s.logger.Error().Err(err).Msg("replacement worker failed to start")
				if err := s.scheduleRestart(err); err != nil {
					s.shutdown(acc)
					return err
				}
				continue
			}
			metrics.WorkerRestartsTotal.Inc()
		}
	}
}

// Workers returns the current pool members, including draining ones, ordered
// by ID.
func (s *Supervisor) Workers() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerStatus, 0, len(s.workers)+len(s.retiring))
	for _, set := range []map[int]*Worker{s.workers, s.retiring} {
		for id, w := range set {
			out = append(out, WorkerStatus{ID: id, State: w.State()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Supervisor) spawn(ctx context.Context, acc *acceptor) (*Worker, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	w := newWorker(id, s.logger, s.reportFault)
	instance, err := s.factory(ctx, w)
	if err != nil {
		w.abandon()
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}

	s.mu.Lock()
	s.workers[id] = w
	s.mu.Unlock()

	w.start(instance, acc.listener(), s.opts)
	w.logger.Info().Msg("worker ready")
	return w, nil
}

func (s *Supervisor) reportFault(w *Worker) {
	select {
	case s.faults <- w:
	case <-s.stopped:
	}
}

// retire drains a faulted worker in the background and schedules its
// replacement.
func (s *Supervisor) retire(w *Worker) error {
	s.mu.Lock()
	if _, ok := s.workers[w.id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.workers, w.id)
	s.retiring[w.id] = w
	s.mu.Unlock()

	metrics.WorkerCrashesTotal.Inc()
	s.drainAsync(w)

	if s.opts.Size == 1 {
		return fmt.Errorf("%w: worker %d: %v", ErrWorkerFault, w.id, w.Fault())
	}
	return s.scheduleRestart(w.Fault())
}

// scheduleRestart records a crash and arranges for a replacement after the
// backoff delay, or reports ErrCrashLoop once the ceiling is reached.
func (s *Supervisor) scheduleRestart(cause error) error {
	now := time.Now()

	s.mu.Lock()
	cutoff := now.Add(-s.opts.CrashWindow)
	recent := s.crashes[:0]
	for _, at := range s.crashes {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) == 0 {
		s.backoff.Reset()
	}
	s.crashes = append(recent, now)
	crashes := len(s.crashes)
	delay := s.backoff.NextBackOff()
	s.mu.Unlock()

	if s.opts.MaxCrashes > 0 && crashes >= s.opts.MaxCrashes {
		s.logger.Error().
			Err(cause).
			Int("crashes", crashes).
			Dur("window", s.opts.CrashWindow).
			Msg("crash ceiling reached, stopping worker pool")
		return fmt.Errorf("%w: %d crashes within %s: %v", ErrCrashLoop, crashes, s.opts.CrashWindow, cause)
	}

	s.logger.Warn().Err(cause).Dur("delay", delay).Int("crashes", crashes).Msg("replacing worker")
	time.AfterFunc(delay, func() {
		select {
		case s.respawn <- struct{}{}:
		case <-s.stopped:
		}
	})
	return nil
}

func (s *Supervisor) drainAsync(w *Worker) {
	s.drains.Add(1)
	go func() {
		defer s.drains.Done()
		_ = w.drain(s.opts.DrainTimeout)
		s.mu.Lock()
		delete(s.retiring, w.id)
		s.mu.Unlock()
	}()
}

// shutdown stops accepting connections and drains every worker. Each
// worker's instance is closed exactly once.
func (s *Supervisor) shutdown(acc *acceptor) {
	s.stop.Do(func() { close(s.stopped) })
	if err := acc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn().Err(err).Msg("close listener")
	}

	s.mu.Lock()
	active := make([]*Worker, 0, len(s.workers))
	for id, w := range s.workers {
		active = append(active, w)
		delete(s.workers, id)
		s.retiring[id] = w
	}
	s.mu.Unlock()

	for _, w := range active {
		s.drainAsync(w)
	}
	s.drains.Wait()
	s.logger.Info().Msg("worker pool stopped")
}
