package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/eventboard/server/internal/api/problem"
)

// PanicError carries a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// FaultReporter is told about every panic a handler raises. The worker
// supervisor uses it to drain and replace the worker; it must not block.
type FaultReporter func(err error)

// Recover turns a handler panic into a 500 for the caller and a fault report
// for the owning worker, which is then retired once its in-flight requests
// finish.
func Recover(report FaultReporter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}

				err := &PanicError{Value: recovered, Stack: debug.Stack()}
				LoggerFromContext(r.Context()).Error().
					Err(err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", err.Stack).
					Msg("panic recovered")

				problem.WriteProblem(w, problem.ProblemDetails{
					Type:   "about:blank",
					Title:  http.StatusText(http.StatusInternalServerError),
					Status: http.StatusInternalServerError,
				})
				if report != nil {
					report(err)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
