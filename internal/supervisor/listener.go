package supervisor

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// acceptor owns the process listener and hands accepted connections to
// whichever worker asks next. Workers never close the shared socket, so one
// worker can shut down while the others keep serving.
type acceptor struct {
	ln     net.Listener
	conns  chan net.Conn
	stop   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newAcceptor(ln net.Listener, logger zerolog.Logger) *acceptor {
	return &acceptor{
		ln:     ln,
		conns:  make(chan net.Conn),
		stop:   make(chan struct{}),
		logger: logger,
	}
}

func (a *acceptor) run() {
	var delay time.Duration
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-a.stop:
				return
			default:
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			a.logger.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			time.Sleep(delay)
			continue
		}
		delay = 0

		select {
		case a.conns <- conn:
		case <-a.stop:
			_ = conn.Close()
			return
		}
	}
}

// Close stops accepting. Connections already handed to workers are not
// affected.
func (a *acceptor) Close() error {
	var err error
	a.once.Do(func() {
		close(a.stop)
		err = a.ln.Close()
	})
	return err
}

func (a *acceptor) listener() *workerListener {
	return &workerListener{acceptor: a, closed: make(chan struct{})}
}

// workerListener is the net.Listener one worker's http.Server serves on.
type workerListener struct {
	acceptor *acceptor
	closed   chan struct{}
	once     sync.Once
}

func (l *workerListener) Accept() (net.Conn, error) {
	select {
	case <-l.closed:
		return nil, net.ErrClosed
	default:
	}
	select {
	case conn := <-l.acceptor.conns:
		return conn, nil
	case <-l.closed:
		// The acceptor stopping does not end Accept; Serve must only see
		// an error once Shutdown has closed this listener.
		return nil, net.ErrClosed
	}
}

func (l *workerListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *workerListener) Addr() net.Addr {
	return l.acceptor.ln.Addr()
}
