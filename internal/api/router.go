package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/eventboard/server/internal/api/handlers"
	"github.com/eventboard/server/internal/api/middleware"
	"github.com/eventboard/server/internal/api/problem"
	"github.com/eventboard/server/internal/config"
	"github.com/eventboard/server/internal/metrics"
	"github.com/eventboard/server/internal/session"
	"github.com/rs/zerolog"
)

// OperationPath is where operations are posted. LegacyOperationPath serves
// the same handler for clients built against the older route.
const (
	OperationPath       = "/api/graphql"
	LegacyOperationPath = "/graphql"
)

// RouterDeps carries everything one worker's HTTP surface needs.
type RouterDeps struct {
	Config      config.Config
	Logger      zerolog.Logger
	Operations  handlers.Dispatcher
	Sessions    *session.Resolver
	Store       handlers.Pinger
	RateLimiter *middleware.RateLimiter
	// Fault is told about handler panics so the owning worker can be
	// retired. Nil means panics are only logged.
	Fault middleware.FaultReporter
	Build BuildInfo
}

// NewRouter builds the handler served by a worker.
func NewRouter(deps RouterDeps) http.Handler {
	cfg := deps.Config
	health := handlers.NewHealthChecker(deps.Store, deps.Build.Version, deps.Build.GitCommit)

	cookie := handlers.CookieOptions{Secure: cfg.Auth.CookieSecure}
	guard := func(next http.Handler) http.Handler {
		if deps.Sessions != nil {
			next = middleware.Session(deps.Sessions)(next)
		}
		if deps.RateLimiter != nil {
			next = deps.RateLimiter.Middleware(next)
		}
		return middleware.RequestSize(cfg.Server.MaxBodyBytes)(next)
	}
	operations := methodMux(map[string]http.Handler{
		http.MethodPost: guard(handlers.NewOperationHandler(deps.Operations, cfg.Environment, cookie)),
	}, cfg.Environment)
	auth := handlers.NewAuthHandler(deps.Operations, cfg.Environment, cookie)

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Healthz())
	mux.Handle("/readyz", health.Readyz())
	mux.Handle("/version", VersionHandler(deps.Build))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle(OperationPath, operations)
	mux.Handle(LegacyOperationPath, operations)
	mux.Handle("/api/auth/login", methodMux(map[string]http.Handler{
		http.MethodPost: guard(auth.Login()),
	}, cfg.Environment))
	mux.Handle("/api/auth/register", methodMux(map[string]http.Handler{
		http.MethodPost: guard(auth.Register()),
	}, cfg.Environment))

	// Recover logs through the request logger, so it must stay inside
	// CorrelationID.
	var handler http.Handler = mux
	handler = middleware.Recover(deps.Fault)(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.SecurityHeaders(cfg.IsProduction())(handler)
	handler = middleware.CORS(cfg.CORS, deps.Logger)(handler)
	handler = middleware.RequestLogging()(handler)
	handler = middleware.CorrelationID(deps.Logger)(handler)
	handler = middleware.Tracing(handler)
	return handler
}

func methodMux(handlers map[string]http.Handler, env string) http.Handler {
	allow := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allow)
		problem.Write(w, r, http.StatusMethodNotAllowed, "method-not-allowed", "Method not allowed", nil, env,
			problem.WithDetail(r.Method+" is not supported; use "+allow))
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
