package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eventboard/server/internal/domain/users"
	"github.com/eventboard/server/internal/mutation"
	"github.com/eventboard/server/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postAuth(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, AuthResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestAuthHandlerSuccess(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC()
	var calls []string
	h := NewAuthHandler(dispatchFunc(func(_ context.Context, name string, variables json.RawMessage) (any, error) {
		calls = append(calls, name)
		assert.JSONEq(t, `{"email":"ada@example.com","password":"password123"}`, string(variables))
		return &mutation.AuthPayload{Token: "signed-token", ExpiresAt: expires}, nil
	}), "production", CookieOptions{Secure: true})

	w, resp := postAuth(t, h.Login(), `{"email":"ada@example.com","password":"password123"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "signed-token", resp.Data.Token)
	assert.Equal(t, "Login successful", resp.Message)
	assert.Nil(t, resp.Error)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "auth_token", cookies[0].Name)
	assert.Equal(t, session.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	w, resp = postAuth(t, h.Register(), `{"email":"ada@example.com","password":"password123"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "User registered successfully", resp.Message)
	assert.Equal(t, []string{"login", "register"}, calls)
}

func TestAuthHandlerFailures(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		err       error
		status    int
		message   string
		errorText string
	}{
		{name: "validation", env: "production", err: mutation.InputError{Field: "email", Message: "required"}, status: http.StatusBadRequest, message: "Validation failed", errorText: "invalid email: required"},
		{name: "bad credentials", env: "production", err: users.ErrInvalidCredentials, status: http.StatusUnauthorized, message: "Invalid credentials"},
		{name: "email taken", env: "production", err: users.ErrEmailTaken, status: http.StatusConflict, message: "Login failed"},
		{name: "internal hidden", env: "production", err: errors.New("pool exhausted"), status: http.StatusInternalServerError, message: "Login failed", errorText: "Login failed"},
		{name: "internal exposed in development", env: "development", err: errors.New("pool exhausted"), status: http.StatusInternalServerError, message: "Login failed", errorText: "pool exhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(dispatchFunc(func(context.Context, string, json.RawMessage) (any, error) {
				return nil, tt.err
			}), tt.env, CookieOptions{})

			w, resp := postAuth(t, h.Login(), `{}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Nil(t, resp.Data)
			assert.Equal(t, tt.message, resp.Message)
			assert.NotNil(t, resp.Error)
			if tt.errorText != "" {
				assert.Equal(t, tt.errorText, resp.Error)
			}
			assert.Empty(t, w.Result().Cookies())
		})
	}
}
