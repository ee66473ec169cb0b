package backend

import (
	"context"

	"github.com/windrose-sh/windrose/pkg/types"
)

// Backend is a configured cloud provider integration. Implementations live
// outside the orchestration core and are registered at startup; the core
// only ever talks to these interfaces.
type Backend interface {
	// Type identifies the provider.
	Type() types.BackendType
	// Compute returns the provisioning surface of the backend.
	Compute() Compute
}

// Compute provisions capacity. Calls may take seconds; implementations must
// honor ctx cancellation. Recoverable failures (a single offer being gone,
// a capacity shortage) are reported as *Error so callers can move on to the
// next offer; ErrNotSupported reports a capability gap.
type Compute interface {
	// GetOffers returns priced instance types matching the requirements,
	// in the backend's preferred order.
	GetOffers(ctx context.Context, req types.Requirements) ([]types.Offer, error)

	// CreateInstance provisions a machine for the given offer.
	CreateInstance(ctx context.Context, offer types.Offer, config types.InstanceConfiguration) (*types.LaunchedInstance, error)

	// TerminateInstance releases the machine. Terminating an instance that
	// is already gone must succeed.
	TerminateInstance(ctx context.Context, region, instanceID string) error
}
