package middleware

import (
	"net/http"

	"github.com/eventboard/server/internal/session"
)

// Session resolves the caller's credential once per request and stores the
// identity, if any, in the context. It never rejects a request; operations
// that need an identity check for it themselves.
func Session(resolver *session.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := resolver.Resolve(r.Context(), session.CredentialFromRequest(r))
			if identity == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := session.WithIdentity(r.Context(), identity)
			logger := LoggerFromContext(ctx).With().Str("user_id", identity.UserID).Logger()
			ctx = logger.WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
