// Package session resolves the caller's identity from a bearer credential.
//
// Resolution never fails loudly: a missing, malformed, expired, revoked or
// orphaned credential yields a nil identity and callers decide whether the
// operation needs one.
package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/domain/users"
	"github.com/rs/zerolog"
)

// CookieName is the cookie carrying the session token for browser clients.
const CookieName = "auth_token"

// legacyCookieName is still accepted on requests issued before the rename.
const legacyCookieName = "token"

type Identity struct {
	UserID    string
	Name      string
	Email     string
	TokenID   string
	ExpiresAt time.Time
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
}

type Resolver struct {
	tokens  *auth.JWTManager
	revoked auth.RevocationStore
	users   UserLookup
	logger  zerolog.Logger
}

func NewResolver(tokens *auth.JWTManager, revoked auth.RevocationStore, lookup UserLookup, logger zerolog.Logger) *Resolver {
	if revoked == nil {
		revoked = auth.NopRevocationStore{}
	}
	return &Resolver{
		tokens:  tokens,
		revoked: revoked,
		users:   lookup,
		logger:  logger.With().Str("component", "session").Logger(),
	}
}

// Resolve returns the identity behind credential, or nil.
func (r *Resolver) Resolve(ctx context.Context, credential string) *Identity {
	if r == nil || r.tokens == nil || strings.TrimSpace(credential) == "" {
		return nil
	}

	claims, err := r.tokens.Validate(credential)
	if err != nil {
		return nil
	}

	revoked, err := r.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		r.logger.Warn().Err(err).Msg("revocation check failed")
		return nil
	}
	if revoked {
		return nil
	}

	identity := &Identity{
		UserID:  claims.Subject,
		Name:    claims.Name,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}

	if r.users != nil {
		user, err := r.users.GetByID(ctx, claims.Subject)
		if err != nil {
			if !errors.Is(err, users.ErrUserNotFound) {
				r.logger.Warn().Err(err).Str("user_id", claims.Subject).Msg("identity lookup failed")
			}
			return nil
		}
		identity.Name = user.Name
		identity.Email = user.Email
	}
	return identity
}

// Revoke invalidates the identity's token for the rest of its lifetime.
func (r *Resolver) Revoke(ctx context.Context, identity *Identity) error {
	if identity == nil || identity.TokenID == "" {
		return nil
	}
	ttl := time.Until(identity.ExpiresAt)
	return r.revoked.Revoke(ctx, identity.TokenID, ttl)
}

// CredentialFromRequest picks the bearer token from the Authorization header,
// falling back to the session cookie.
func CredentialFromRequest(req *http.Request) string {
	if req == nil {
		return ""
	}
	if header := strings.TrimSpace(req.Header.Get("Authorization")); header != "" {
		if token, err := auth.TokenFromHeader(header); err == nil {
			return token
		}
	}
	for _, name := range []string{CookieName, legacyCookieName} {
		if cookie, err := req.Cookie(name); err == nil && strings.TrimSpace(cookie.Value) != "" {
			return strings.TrimSpace(cookie.Value)
		}
	}
	return ""
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext returns the identity resolved for this request, or nil.
func FromContext(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(identityKey).(*Identity); ok {
		return identity
	}
	return nil
}
