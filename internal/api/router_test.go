package api

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

	"github.com/eventboard/server/internal/api/handlers"
	"github.com/eventboard/server/internal/api/middleware"
	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/config"
	"github.com/eventboard/server/internal/domain/events"
	"github.com/eventboard/server/internal/domain/users"
	"github.com/eventboard/server/internal/mutation"
	"github.com/eventboard/server/internal/session"
	"github.com/eventboard/server/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMethodMux(t *testing.T) {
	getHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("GET response"))
	})
	postHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("POST response"))
	})

	mux := methodMux(map[string]http.Handler{
		http.MethodGet:  getHandler,
		http.MethodPost: postHandler,
	}, "test")

	tests := []struct {
		name         string
		method       string
		expectStatus int
		expectBody   string
		expectAllow  string
	}{
		{name: "GET allowed", method: http.MethodGet, expectStatus: http.StatusOK, expectBody: "GET response"},
		{name: "POST allowed", method: http.MethodPost, expectStatus: http.StatusCreated, expectBody: "POST response"},
		{name: "PUT not allowed", method: http.MethodPut, expectStatus: http.StatusMethodNotAllowed, expectAllow: "GET, POST"},
		{name: "DELETE not allowed", method: http.MethodDelete, expectStatus: http.StatusMethodNotAllowed, expectAllow: "GET, POST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(tt.method, "/graphql", nil))

			assert.Equal(t, tt.expectStatus, w.Code)
			if tt.expectBody != "" {
				assert.Equal(t, tt.expectBody, w.Body.String())
			}
			if tt.expectAllow != "" {
				assert.Equal(t, tt.expectAllow, w.Header().Get("Allow"))
				assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			}
		})
	}
}

type testServer struct {
	handler http.Handler
}

func newTestServer(t *testing.T, mutate func(*RouterDeps)) *testServer {
	t.Helper()
	cfg := config.Defaults()
	cfg.Environment = "test"
	cfg.RateLimit.RequestsPerMinute = 0

	store := memory.New()
	logger := zerolog.Nop()
	tokens := auth.NewJWTManager("router-test-secret", time.Hour, "eventboard")
	sessions := session.NewResolver(tokens, auth.NopRevocationStore{}, store.Users(), logger)
	usersService := users.NewService(store.Users(), logger, users.WithBcryptCost(bcrypt.MinCost))

	deps := RouterDeps{
		Config:     cfg,
		Logger:     logger,
		Operations: mutation.NewRouter(events.NewService(store, logger), usersService, tokens, sessions, logger),
		Sessions:   sessions,
		Store:      store,
		Build:      BuildInfo{Version: "test"},
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &testServer{handler: NewRouter(deps)}
}

func (s *testServer) call(t *testing.T, cookie *http.Cookie, operation string, variables any) (*httptest.ResponseRecorder, handlers.OperationResponse) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"operation": operation, "variables": variables})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, OperationPath, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var resp handlers.OperationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func decodeData[T any](t *testing.T, resp handlers.OperationResponse, operation string) T {
	t.Helper()
	require.Empty(t, resp.Errors)
	raw, err := json.Marshal(resp.Data[operation])
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestRouterEditConflictScenario(t *testing.T) {
	srv := newTestServer(t, nil)

	w, _ := srv.call(t, nil, "register", map[string]any{
		"name": "Ada", "email": "ada@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]

	_, resp := srv.call(t, cookie, "createEvent", map[string]any{
		"title": "Gophers", "date": "2026-11-01T18:00:00Z",
	})
	created := decodeData[events.Event](t, resp, "createEvent")
	require.Equal(t, int64(1), created.Version)

	_, resp = srv.call(t, cookie, "editEvent", map[string]any{
		"id": created.ID, "version": 1, "title": "Gophers meetup",
	})
	edited := decodeData[events.Event](t, resp, "editEvent")
	require.Equal(t, int64(2), edited.Version)

	w, resp = srv.call(t, cookie, "editEvent", map[string]any{
		"id": created.ID, "version": 1, "title": "stale",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, mutation.CodeVersionConflict, resp.Errors[0].Extensions["code"])
	assert.Equal(t, []string{"editEvent"}, resp.Errors[0].Path)

	_, resp = srv.call(t, nil, "event", map[string]any{"id": created.ID})
	current := decodeData[events.Event](t, resp, "event")
	assert.Equal(t, "Gophers meetup", current.Title)
	assert.Equal(t, int64(2), current.Version)
}

func TestRouterUnauthenticatedMutation(t *testing.T) {
	srv := newTestServer(t, nil)

	w, resp := srv.call(t, nil, "createEvent", map[string]any{
		"title": "Gophers", "date": "2026-11-01T18:00:00Z",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, mutation.CodeUnauthenticated, resp.Errors[0].Extensions["code"])

	_, resp = srv.call(t, nil, "events", nil)
	list := decodeData[[]events.Event](t, resp, "events")
	assert.Empty(t, list)
}

func TestRouterAmbientEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz", "/version", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}

	w := httptest.NewRecorder()
	srv.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, OperationPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
}

func TestRouterAnswersCORSPreflight(t *testing.T) {
	srv := newTestServer(t, func(deps *RouterDeps) {
		deps.Config.CORS.AllowedOrigins = []string{"https://app.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, OperationPath, nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRouterRejectsOversizedBody(t *testing.T) {
	srv := newTestServer(t, func(d *RouterDeps) { d.Config.Server.MaxBodyBytes = 128 })

	body := `{"operation":"createEvent","variables":{"title":"` + strings.Repeat("x", 512) + `"}}`
	w := httptest.NewRecorder()
	srv.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, OperationPath, strings.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

type panicDispatcher struct{}

func (panicDispatcher) Dispatch(context.Context, string, json.RawMessage) (any, error) {
	panic("corrupted worker state")
}

func TestRouterReportsPanics(t *testing.T) {
	var reported []error
	srv := newTestServer(t, func(d *RouterDeps) {
		d.Operations = panicDispatcher{}
		d.Fault = func(err error) { reported = append(reported, err) }
	})

	w := httptest.NewRecorder()
	srv.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, OperationPath, strings.NewReader(`{"operation":"events"}`)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, reported, 1)
	var panicErr *middleware.PanicError
	assert.True(t, errors.As(reported[0], &panicErr))
}

func TestRouterLogsRecoveredPanic(t *testing.T) {
	var logs bytes.Buffer
	srv := newTestServer(t, func(d *RouterDeps) {
		d.Logger = zerolog.New(&logs)
		d.Operations = panicDispatcher{}
	})

	req := httptest.NewRequest(http.MethodPost, OperationPath, strings.NewReader(`{"operation":"events"}`))
	req.Header.Set(middleware.RequestIDHeader, "req-panic-1")
	w := httptest.NewRecorder()
	srv.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var recovered map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry), string(line))
		if entry["message"] == "panic recovered" {
			recovered = entry
		}
	}
	require.NotNil(t, recovered, logs.String())
	assert.Equal(t, "error", recovered["level"])
	assert.Equal(t, "req-panic-1", recovered["request_id"])
	assert.Contains(t, recovered["error"], "corrupted worker state")
	assert.NotEmpty(t, recovered["stack"])
}

func TestRouterServesLegacyOperationPath(t *testing.T) {
	srv := newTestServer(t, nil)
	require.Equal(t, "/api/graphql", OperationPath)

	w := httptest.NewRecorder()
	srv.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, LegacyOperationPath, strings.NewReader(`{"operation":"categories"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.OperationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, decodeData[[]events.Category](t, resp, "categories"))
}

func TestRouterRESTAuth(t *testing.T) {
	srv := newTestServer(t, nil)

	post := func(path, body string) (*httptest.ResponseRecorder, handlers.AuthResponse) {
		w := httptest.NewRecorder()
		srv.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		var resp handlers.AuthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
		return w, resp
	}

	w, resp := post("/api/auth/register", `{"name":"Ada","email":"ada@example.com","password":"password123"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, resp.Data)
	require.NotEmpty(t, resp.Data.Token)

	w, _ = post("/api/auth/register", `{"name":"Ada","email":"ada@example.com","password":"password123"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = post("/api/auth/register", `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = post("/api/auth/login", `{"email":"ada@example.com","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp = post("/api/auth/login", `{"email":"ada@example.com","password":"password123"}`)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.CookieName, cookies[0].Name)
	assert.Equal(t, resp.Data.Token, cookies[0].Value)

	_, me := srv.call(t, cookies[0], "me", nil)
	assert.Equal(t, "ada@example.com", decodeData[users.User](t, me, "me").Email)

	w = httptest.NewRecorder()
	srv.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
