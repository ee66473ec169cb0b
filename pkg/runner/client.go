package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"

	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/metrics"
	"github.com/windrose-sh/windrose/pkg/types"
)

const (
	// DefaultPort is where the runner agent listens on a provisioned
	// instance.
	DefaultPort = 10999

	defaultCallTimeout = 10 * time.Second
)

// Client talks to one instance's runner agent over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a client for the agent at hostname:port.
func NewClient(hostname string, port int) *Client {
	if port == 0 {
		port = DefaultPort
	}
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", hostname, port),
		http:    &http.Client{Timeout: defaultCallTimeout},
		logger:  log.WithComponent("runner"),
	}
}

// FromProvisioningData creates a client for the instance a job landed on.
func FromProvisioningData(data *types.ProvisioningData) *Client {
	return NewClient(data.Hostname, data.RunnerPort)
}

// Healthcheck reports whether the agent is up. While an instance boots
// this fails with connection errors; callers poll it from the reconciler.
func (c *Client) Healthcheck(ctx context.Context) (*HealthcheckResponse, error) {
	var resp HealthcheckResponse
	if err := c.call(ctx, http.MethodGet, "/api/healthcheck", nil, &resp); err != nil {
		metrics.RunnerRequests.WithLabelValues("healthcheck", "error").Inc()
		return nil, err
	}
	metrics.RunnerRequests.WithLabelValues("healthcheck", "ok").Inc()
	return &resp, nil
}

// Submit hands the job to the agent for execution. EC2-style agents can
// drop the first requests right after boot, so the call retries briefly.
func (c *Client) Submit(ctx context.Context, job *types.Job) error {
	req := newSubmitRequest(job)
	err := retry.Do(
		func() error { return c.call(ctx, http.MethodPost, "/api/submit", req, nil) },
		retry.Delay(1*time.Second),
		retry.Attempts(3),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		metrics.RunnerRequests.WithLabelValues("submit", "error").Inc()
		return fmt.Errorf("failed to submit job %s: %w", job.Name, err)
	}
	metrics.RunnerRequests.WithLabelValues("submit", "ok").Inc()
	return nil
}

// Pull returns the agent's current view of its job.
func (c *Client) Pull(ctx context.Context) (*StateReport, error) {
	var resp PullResponse
	if err := c.call(ctx, http.MethodGet, "/api/pull", nil, &resp); err != nil {
		metrics.RunnerRequests.WithLabelValues("pull", "error").Inc()
		return nil, err
	}
	metrics.RunnerRequests.WithLabelValues("pull", "ok").Inc()
	report := resp.toStateReport()
	return &report, nil
}

// Stop asks the agent to stop the job. Graceful stops leave the workload
// its grace period. The call retries briefly; a runner that stays
// unreachable is the caller's problem to log, not to block on.
func (c *Client) Stop(ctx context.Context, graceful bool) error {
	err := retry.Do(
		func() error { return c.call(ctx, http.MethodPost, "/api/stop", stopRequest{Graceful: graceful}, nil) },
		retry.Delay(1*time.Second),
		retry.Attempts(3),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		metrics.RunnerRequests.WithLabelValues("stop", "error").Inc()
		return fmt.Errorf("failed to stop runner: %w", err)
	}
	metrics.RunnerRequests.WithLabelValues("stop", "ok").Inc()
	return nil
}

// call performs one JSON request. A non-2xx response is an error carrying
// the status and a bounded slice of the body.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("runner returned %s: %s", resp.Status, bytes.TrimSpace(detail))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
