package runner

import (
	"context"

	"github.com/windrose-sh/windrose/pkg/types"
)

// Agent is the surface the orchestrator drives a job's runner through.
// Client implements it; tests substitute fakes.
type Agent interface {
	Healthcheck(ctx context.Context) (*HealthcheckResponse, error)
	Submit(ctx context.Context, job *types.Job) error
	Pull(ctx context.Context) (*StateReport, error)
	Stop(ctx context.Context, graceful bool) error
}

// Factory dials the agent on the instance described by data.
type Factory func(data *types.ProvisioningData) Agent

// DefaultFactory returns the HTTP client implementation.
func DefaultFactory(data *types.ProvisioningData) Agent {
	return FromProvisioningData(data)
}
