package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-sh/windrose/pkg/types"
)

func clientFor(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return NewClient(u.Hostname(), port)
}

// TestHealthcheck tests the agent liveness probe
func TestHealthcheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/healthcheck", r.URL.Path)
		_ = json.NewEncoder(w).Encode(HealthcheckResponse{Version: "0.3.1"})
	}))
	defer server.Close()

	resp, err := clientFor(t, server).Healthcheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.3.1", resp.Version)
}

// TestSubmit tests handing a job spec to the agent
func TestSubmit(t *testing.T) {
	var got SubmitRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/submit", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	job := &types.Job{
		RunName:       "brave-otter-1",
		Name:          "brave-otter-1-0-0",
		SubmissionNum: 2,
		Spec: types.JobSpec{
			Image:    "python:3.12-slim",
			Commands: []string{"python train.py"},
		},
	}

	err := clientFor(t, server).Submit(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "brave-otter-1-0-0", got.JobName)
	assert.Equal(t, 2, got.SubmissionNum)
	assert.Equal(t, "python:3.12-slim", got.Image)
}

// TestSubmitRetriesOnFlappingAgent tests that brief startup failures are
// absorbed
func TestSubmitRetriesOnFlappingAgent(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "still starting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := clientFor(t, server).Submit(context.Background(), &types.Job{Name: "x-0-0"})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

// TestPull tests translating agent state to domain enums
func TestPull(t *testing.T) {
	exit := 1
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pull", r.URL.Path)
		_ = json.NewEncoder(w).Encode(PullResponse{
			State:              "failed",
			ExitStatus:         &exit,
			TerminationReason:  string(types.JobTerminationReasonContainerExitedWithError),
			TerminationMessage: "exit status 1",
		})
	}))
	defer server.Close()

	report, err := clientFor(t, server).Pull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.JobStatusFailed, report.Status)
	require.NotNil(t, report.ExitStatus)
	assert.Equal(t, 1, *report.ExitStatus)
	assert.Equal(t, types.JobTerminationReasonContainerExitedWithError, report.TerminationReason)
}

// TestStop tests the stop signal payload
func TestStop(t *testing.T) {
	var got stopRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stop", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := clientFor(t, server).Stop(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, got.Graceful)
}

// TestErrorCarriesBody tests that HTTP failures surface the agent's reply
func TestErrorCarriesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no job submitted", http.StatusConflict)
	}))
	defer server.Close()

	_, err := clientFor(t, server).Pull(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "no job submitted")
}

// TestUnknownStateMapsToEmpty tests tolerance of newer agent states
func TestUnknownStateMapsToEmpty(t *testing.T) {
	report := PullResponse{State: "checkpointing"}.toStateReport()
	assert.Empty(t, report.Status)
}
