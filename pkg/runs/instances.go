package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/windrose-sh/windrose/pkg/backend"
	"github.com/windrose-sh/windrose/pkg/events"
	"github.com/windrose-sh/windrose/pkg/jobs"
	"github.com/windrose-sh/windrose/pkg/metrics"
	"github.com/windrose-sh/windrose/pkg/runner"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// CreateInstanceRequest describes the pool instance CreateInstance
// provisions. Profile and Requirements drive offer selection; the SSH
// keys end up authorized on the machine.
type CreateInstanceRequest struct {
	Project       *types.Project
	User          *types.User
	PoolName      string
	InstanceName  string
	UserPublicKey string
	Profile       *types.Profile
	Requirements  types.Requirements
}

// CreateInstance provisions a fresh pool instance, walking the planner's
// offers in order until one accepts. Capacity shortages mark the offer
// unavailable and move on; only a non-recoverable backend fault aborts
// the walk early. The instance row is committed in PROVISIONING state and
// handed to the reconciler to await its runner.
func (s *Service) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*types.Instance, error) {
	offers := s.planner.GetOffers(ctx, req.Profile, req.Requirements, true)
	if len(offers) == 0 {
		return nil, types.NewClientError("Failed to find offers to create the instance.")
	}

	var creatable []types.Offer
	unsupported := map[types.BackendType]struct{}{}
	for _, offer := range offers {
		switch {
		case offer.Runtime == types.InstanceRuntimeRunner:
			// The machine would only exist for one job; it cannot sit
			// idle in a pool.
		case !offer.Backend.SupportsCreateInstance():
			unsupported[offer.Backend] = struct{}{}
		default:
			creatable = append(creatable, offer)
		}
	}
	if len(creatable) == 0 {
		if len(unsupported) == 0 {
			return nil, types.NewClientError("Failed to find offers to create the instance.")
		}
		names := make([]string, 0, len(unsupported))
		for b := range unsupported {
			names = append(names, string(b))
		}
		sort.Strings(names)
		return nil, types.NewClientError(
			"Backends %s do not support create_instance. Try to select other backends.",
			strings.Join(names, ", "))
	}

	pool, err := s.pools.GetOrCreatePool(req.Project.ID, req.PoolName)
	if err != nil {
		return nil, err
	}

	name := req.InstanceName
	if name == "" {
		name = runNameBase()
	}
	config := instanceConfiguration(req, name)

	for _, offer := range creatable {
		logger := s.logger.With().
			Str("backend", string(offer.Backend)).
			Str("instance_type", offer.Instance.Name).
			Str("region", offer.Region).
			Logger()

		b, ok := s.registry.Get(offer.Backend)
		if !ok {
			continue
		}
		logger.Debug().Float64("price", offer.Price).Msg("Trying offer")

		launched, err := b.Compute().CreateInstance(ctx, offer, config)
		switch {
		case err == nil:
		case backend.IsNoCapacity(err):
			metrics.InstanceCreateAttempts.WithLabelValues(string(offer.Backend), "no_capacity").Inc()
			s.planner.Unavailable().MarkUnavailable(err.Error(), offer)
			logger.Warn().Err(err).Msg("No capacity for offer")
			continue
		case errors.Is(err, backend.ErrNotSupported):
			logger.Debug().Msg("Offer cannot be provisioned standalone")
			continue
		case backend.IsRecoverable(err):
			metrics.InstanceCreateAttempts.WithLabelValues(string(offer.Backend), "error").Inc()
			logger.Warn().Err(err).Msg("Failed to create instance from offer")
			continue
		default:
			metrics.InstanceCreateAttempts.WithLabelValues(string(offer.Backend), "error").Inc()
			return nil, fmt.Errorf("create instance on %s: %w", offer.Backend, err)
		}

		metrics.InstanceCreateAttempts.WithLabelValues(string(offer.Backend), "ok").Inc()

		instance := s.newInstance(req, pool, name, offer, launched, config)
		if err := s.store.Update(func(tx storage.Tx) error {
			return tx.CreateInstance(instance)
		}); err != nil {
			return nil, err
		}
		s.logger.Info().
			Str("instance", instance.Name).
			Str("backend", string(instance.Backend)).
			Str("region", instance.Region).
			Float64("price", instance.Price).
			Msg("Instance provisioning")
		s.publish(events.NewInstanceEvent(events.EventInstanceCreated, instance, "Instance provisioning"))
		return instance, nil
	}

	return nil, types.NewClientError("Failed to create the instance.")
}

func instanceConfiguration(req CreateInstanceRequest, name string) types.InstanceConfiguration {
	var keys []types.SSHKey
	if req.UserPublicKey != "" {
		keys = append(keys, types.SSHKey{Public: req.UserPublicKey})
	}
	keys = append(keys, types.SSHKey{Public: req.Project.SSHPublicKey})
	return types.InstanceConfiguration{
		ProjectName:  req.Project.Name,
		InstanceName: name,
		User:         req.User.Name,
		SSHKeys:      keys,
		Image:        jobs.DefaultImage(""),
	}
}

func (s *Service) newInstance(req CreateInstanceRequest, pool *types.Pool, name string, offer types.Offer, launched *types.LaunchedInstance, config types.InstanceConfiguration) *types.Instance {
	policy := req.Profile.TerminationPolicy
	if policy == "" {
		policy = types.TerminationPolicyDestroyAfterIdle
	}
	idleTime := req.Profile.TerminationIdleTime.Std()
	if idleTime == 0 {
		idleTime = s.idleDefault
	}

	data := &types.ProvisioningData{
		Backend:    offer.Backend,
		Instance:   offer.Instance,
		InstanceID: launched.InstanceID,
		Hostname:   launched.Hostname,
		Region:     launched.Region,
		Price:      offer.Price,
		Username:   launched.Username,
		SSHPort:    launched.SSHPort,
		Runtime:    launched.Runtime,
		RunnerPort: runner.DefaultPort,
	}
	if data.Region == "" {
		data.Region = offer.Region
	}
	if data.Runtime == "" {
		data.Runtime = types.InstanceRuntimeShim
	}

	return &types.Instance{
		ID:                  uuid.New().String(),
		ProjectID:           req.Project.ID,
		PoolID:              pool.ID,
		Name:                name,
		Backend:             offer.Backend,
		Region:              data.Region,
		Price:               offer.Price,
		Status:              types.InstanceStatusProvisioning,
		Offer:               &offer,
		Configuration:       &config,
		ProvisioningData:    data,
		TerminationPolicy:   policy,
		TerminationIdleTime: idleTime,
		CreatedAt:           time.Now(),
	}
}
