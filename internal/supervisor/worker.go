package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eventboard/server/internal/metrics"
	"github.com/rs/zerolog"
)

type State int32

const (
	StateStarting State = iota
	StateReady
	StateDraining
	StateTerminated
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	case StateCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// live reports whether workers in s are counted in the state gauge.
func (s State) live() bool {
	return s == StateStarting || s == StateReady || s == StateDraining
}

// Instance is the per-worker application: the handler it serves and the
// resources it releases when the worker stops.
type Instance interface {
	Handler() http.Handler
	Close() error
}

// Worker is one request-serving unit of the pool. It owns an Instance and
// the http.Server in front of it.
type Worker struct {
	id     int
	logger zerolog.Logger
	state  atomic.Int32

	server   *http.Server
	listener *workerListener
	instance Instance

	// ctx is cancelled when the worker starts draining.
	ctx        context.Context
	cancel     context.CancelFunc
	goroutines sync.WaitGroup

	faultOnce sync.Once
	faultMu   sync.Mutex
	fault     error
	onFault   func(*Worker)

	drainOnce sync.Once
	drainErr  error
	done      chan struct{}
}

func newWorker(id int, logger zerolog.Logger, onFault func(*Worker)) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:      id,
		logger:  logger.With().Int("worker_id", id).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		onFault: onFault,
		done:    make(chan struct{}),
	}
	w.state.Store(int32(StateStarting))
	metrics.WorkersByState.WithLabelValues(StateStarting.String()).Inc()
	return w
}

func (w *Worker) ID() int { return w.id }

// Logger returns the worker's logger, tagged with worker_id.
func (w *Worker) Logger() zerolog.Logger { return w.logger }

func (w *Worker) State() State { return State(w.state.Load()) }

// Done is closed once the worker has drained and released its instance.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Fault returns the error that retired the worker, if any.
func (w *Worker) Fault() error {
	w.faultMu.Lock()
	defer w.faultMu.Unlock()
	return w.fault
}

func (w *Worker) transition(from, to State) bool {
	if !w.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if from.live() {
		metrics.WorkersByState.WithLabelValues(from.String()).Dec()
	}
	if to.live() {
		metrics.WorkersByState.WithLabelValues(to.String()).Inc()
	}
	w.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("worker state")
	return true
}

// ReportFault retires the worker: it stops taking new requests, finishes
// in-flight ones and is replaced. Only the first fault counts. Safe to call
// from any goroutine; it never blocks.
func (w *Worker) ReportFault(err error) {
	if err == nil {
		return
	}
	w.faultOnce.Do(func() {
		w.faultMu.Lock()
		w.fault = err
		w.faultMu.Unlock()
		w.logger.Error().Err(err).Msg("worker fault")
		if w.onFault != nil {
			go w.onFault(w)
		}
	})
}

// Go runs fn on a goroutine tied to the worker. fn's context is cancelled
// when the worker drains. A panic in fn is reported as a worker fault.
func (w *Worker) Go(fn func(ctx context.Context)) {
	w.goroutines.Add(1)
	go func() {
		defer w.goroutines.Done()
		defer func() {
			if r := recover(); r != nil {
				w.ReportFault(fmt.Errorf("worker goroutine panic: %v\n%s", r, debug.Stack()))
			}
		}()
		fn(w.ctx)
	}()
}

func (w *Worker) start(instance Instance, listener *workerListener, opts Options) {
	w.instance = instance
	w.listener = listener
	w.server = &http.Server{
		Handler:           instance.Handler(),
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		err := w.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.ReportFault(fmt.Errorf("serve: %w", err))
		}
	}()
	w.transition(StateStarting, StateReady)
}

// drain shuts the worker down: no new connections, in-flight requests run to
// completion or until timeout, then the instance is closed. It runs once;
// later calls wait for and return the first result.
func (w *Worker) drain(timeout time.Duration) error {
	w.drainOnce.Do(func() {
		defer close(w.done)
		if !w.transition(StateReady, StateDraining) {
			w.transition(StateStarting, StateDraining)
		}
		w.logger.Info().Dur("timeout", timeout).Msg("worker draining")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if w.server != nil {
			if err := w.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown: %w", err))
				_ = w.server.Close()
			}
		}

		w.cancel()
		waitGroup(ctx, &w.goroutines)

		if w.instance != nil {
			if err := w.instance.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close instance: %w", err))
			}
		}

		final := StateTerminated
		if w.Fault() != nil {
			final = StateCrashed
		}
		w.transition(StateDraining, final)
		w.drainErr = errors.Join(errs...)
		if w.drainErr != nil {
			w.logger.Error().Err(w.drainErr).Msg("worker drained with errors")
		} else {
			w.logger.Info().Str("state", final.String()).Msg("worker stopped")
		}
	})
	<-w.done
	return w.drainErr
}

// abandon releases a worker whose instance never started.
func (w *Worker) abandon() {
	w.drainOnce.Do(func() {
		w.cancel()
		w.transition(StateStarting, StateTerminated)
		close(w.done)
	})
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
