package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether the backing store can serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck represents the readiness of a worker
type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

type HealthChecker struct {
	store     Pinger
	version   string
	gitCommit string
}

func NewHealthChecker(store Pinger, version, gitCommit string) *HealthChecker {
	if version == "" {
		version = "dev"
	}
	if gitCommit == "" {
		gitCommit = "unknown"
	}
	return &HealthChecker{store: store, version: version, gitCommit: gitCommit}
}

// Healthz is the liveness check. It answers as long as the worker can serve
// HTTP at all.
func (h *HealthChecker) Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})
}

// Readyz is the readiness check. It fails while the store is unreachable or
// the request is already being cancelled by shutdown.
func (h *HealthChecker) Readyz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Context().Err() != nil {
			respondJSON(w, http.StatusServiceUnavailable, h.result("unhealthy", map[string]CheckResult{
				"shutdown": {Status: "fail", Message: "server is shutting down"},
			}))
			return
		}

		check := h.checkStore(r.Context())
		status, code := "healthy", http.StatusOK
		if check.Status != "pass" {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		respondJSON(w, code, h.result(status, map[string]CheckResult{"store": check}))
	})
}

func (h *HealthChecker) checkStore(ctx context.Context) CheckResult {
	if h.store == nil {
		return CheckResult{Status: "fail", Message: "store not initialized"}
	}

	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	start := time.Now()
	err := h.store.Ping(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return CheckResult{Status: "fail", Message: err.Error(), LatencyMs: latency}
	}
	return CheckResult{Status: "pass", LatencyMs: latency}
}

func (h *HealthChecker) result(status string, checks map[string]CheckResult) HealthCheck {
	return HealthCheck{
		Status:    status,
		Version:   h.version,
		GitCommit: h.gitCommit,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
