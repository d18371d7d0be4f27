package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/domain/users"
	"github.com/eventboard/server/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDGeneratesAndEchoes(t *testing.T) {
	var seen string
	handler := CorrelationID(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", seen)

	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.NotEqual(t, strings.Repeat("x", maxRequestIDLength+1), seen)
}

func TestRequestLoggingUsesRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	handler := CorrelationID(logger)(RequestLogging()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("done"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set(RequestIDHeader, "req-9")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "req-9", line["request_id"])
	require.Equal(t, float64(http.StatusCreated), line["status"])
	require.Equal(t, float64(4), line["bytes"])
	require.Equal(t, "info", line["level"])
}

func TestRecoverReportsFault(t *testing.T) {
	var reported error
	handler := Recover(func(err error) { reported = err })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/graphql", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var panicErr *PanicError
	require.True(t, errors.As(reported, &panicErr))
	require.Equal(t, "boom", panicErr.Value)
	require.NotEmpty(t, panicErr.Stack)
}

func TestRecoverUnwrapsErrorPanics(t *testing.T) {
	cause := errors.New("nil map write")
	var reported error
	handler := Recover(func(err error) { reported = err })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(cause)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/graphql", nil))

	require.ErrorIs(t, reported, cause)
}

func TestRecoverRepanicsAbort(t *testing.T) {
	handler := Recover(func(error) { t.Fatal("abort must not be reported") })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

type lookup struct{ user *users.User }

func (l lookup) GetByID(_ context.Context, id string) (*users.User, error) {
	if l.user != nil && l.user.ID == id {
		return l.user, nil
	}
	return nil, users.ErrUserNotFound
}

func TestSessionAttachesIdentity(t *testing.T) {
	tokens := auth.NewJWTManager("secret", time.Hour, "eventboard")
	resolver := session.NewResolver(tokens, nil, lookup{user: &users.User{ID: "user-1", Name: "Ada"}}, zerolog.Nop())
	token, err := tokens.Generate("user-1", "Ada")
	require.NoError(t, err)

	var identity *session.Identity
	handler := Session(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity = session.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, identity)
	require.Equal(t, "user-1", identity.UserID)

	req = httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	identity = nil
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, identity)

	req = httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	identity = nil
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Nil(t, identity)
}
