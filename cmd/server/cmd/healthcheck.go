package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// HealthResponse matches the bodies of /healthz and /readyz.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func newHealthcheckCommand() *cobra.Command {
	var (
		timeout time.Duration
		url     string
		ready   bool
	)

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check by calling /healthz (or /readyz with --ready).

This command is used by container HEALTHCHECKs. It exits with code 0 if the
server is healthy, non-zero otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := url
			if target == "" {
				target = defaultHealthURL(ready)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := performHealthCheck(ctx, target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", resp.Status)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().StringVar(&url, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/healthz)")
	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness (/readyz) instead of liveness")
	return cmd
}

func defaultHealthURL(ready bool) string {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	path := "/healthz"
	if ready {
		path = "/readyz"
	}
	return fmt.Sprintf("http://localhost:%s%s", port, path)
}

// performHealthCheck calls url and reports an error unless the server
// answers 200 with a healthy status.
func performHealthCheck(ctx context.Context, url string) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parse health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &body, fmt.Errorf("unhealthy: status code %d (%s)", resp.StatusCode, body.Status)
	}
	if body.Status != "ok" && body.Status != "healthy" {
		return &body, fmt.Errorf("unhealthy: status=%s", body.Status)
	}
	return &body, nil
}
