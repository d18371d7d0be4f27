package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformHealthCheck(t *testing.T) {
	tests := []struct {
		name           string
		statusCode     int
		responseBody   any
		expectError    bool
		expectedStatus string
	}{
		{name: "liveness ok", statusCode: http.StatusOK, responseBody: HealthResponse{Status: "ok"}, expectedStatus: "ok"},
		{
			name:       "readiness healthy",
			statusCode: http.StatusOK,
			responseBody: HealthResponse{
				Status: "healthy",
				Checks: map[string]CheckResult{"store": {Status: "pass"}},
			},
			expectedStatus: "healthy",
		},
		{name: "degraded status", statusCode: http.StatusOK, responseBody: HealthResponse{Status: "degraded"}, expectError: true, expectedStatus: "degraded"},
		{name: "unavailable", statusCode: http.StatusServiceUnavailable, responseBody: HealthResponse{Status: "unhealthy"}, expectError: true, expectedStatus: "unhealthy"},
		{name: "invalid JSON", statusCode: http.StatusOK, responseBody: "not json", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				if str, ok := tt.responseBody.(string); ok {
					fmt.Fprint(w, str)
					return
				}
				_ = json.NewEncoder(w).Encode(tt.responseBody)
			}))
			defer server.Close()

			resp, err := performHealthCheck(context.Background(), server.URL)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			if tt.expectedStatus != "" {
				require.NotNil(t, resp)
				assert.Equal(t, tt.expectedStatus, resp.Status)
			}
		})
	}
}

func TestPerformHealthCheckTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := performHealthCheck(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultHealthURL(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	assert.Equal(t, "http://localhost:8080/healthz", defaultHealthURL(false))
	assert.Equal(t, "http://localhost:8080/readyz", defaultHealthURL(true))

	t.Setenv("SERVER_PORT", "9000")
	assert.Equal(t, "http://localhost:9000/healthz", defaultHealthURL(false))
}

func TestHealthcheckCommandAgainstServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	}))
	defer server.Close()

	output, err := execute(t, "healthcheck", "--url", server.URL)
	require.NoError(t, err)
	assert.Contains(t, output, "status: ok")
}
