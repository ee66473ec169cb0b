package gateway

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/types"
)

// Service maps runs onto gateway domains. Each service run gets the
// domain <run name>.<wildcard domain>; its replicas become the domain's
// upstream servers as they start.
type Service struct {
	controller *Controller
	wildcard   string
	logger     zerolog.Logger
}

// NewService creates the run-facing gateway service. wildcardDomain is the
// suffix run domains are minted under, e.g. "runs.example.com".
func NewService(controller *Controller, wildcardDomain string) *Service {
	return &Service{
		controller: controller,
		wildcard:   wildcardDomain,
		logger:     log.WithComponent("gateway"),
	}
}

// Enabled reports whether the gateway can serve run domains.
func (s *Service) Enabled() bool {
	return s != nil && s.controller != nil && s.wildcard != ""
}

// Controller exposes the underlying site controller.
func (s *Service) Controller() *Controller {
	return s.controller
}

// RegisterRun registers the run's service domain and returns it. The run
// row is not touched; the caller persists the domain on the run.
func (s *Service) RegisterRun(ctx context.Context, project *types.Project, run *types.Run) (string, error) {
	domain := fmt.Sprintf("%s.%s", run.Name, s.wildcard)
	auth := run.Spec.Configuration.Auth

	if err := s.controller.RegisterService(ctx, project.Name, run.ID, domain, auth); err != nil {
		return "", err
	}

	s.logger.Info().
		Str("run", run.Name).
		Str("domain", domain).
		Msg("Registered run service")
	return domain, nil
}

// UnregisterRun removes the run's domain from the proxy.
func (s *Service) UnregisterRun(ctx context.Context, run *types.Run) error {
	if run.GatewayDomain == "" {
		return nil
	}
	return s.controller.UnregisterDomain(ctx, run.GatewayDomain)
}

// AddReplica wires a running job into its run's upstream set.
func (s *Service) AddReplica(ctx context.Context, run *types.Run, job *types.Job) error {
	if run.GatewayDomain == "" || job.ProvisioningData == nil {
		return nil
	}
	address := fmt.Sprintf("%s:%d", job.ProvisioningData.Hostname, servicePort(run))
	return s.controller.AddUpstream(ctx, run.GatewayDomain, job.ID, address)
}

// RemoveReplica detaches a job from its run's upstream set. Unknown
// replicas are fine; a job that never reached RUNNING was never added.
func (s *Service) RemoveReplica(ctx context.Context, run *types.Run, job *types.Job) error {
	if run.GatewayDomain == "" {
		return nil
	}
	err := s.controller.RemoveUpstream(ctx, run.GatewayDomain, job.ID)
	if IsGatewayError(err) {
		return nil
	}
	return err
}

func servicePort(run *types.Run) int {
	if port := run.Spec.Configuration.Port; port != nil {
		return port.ContainerPort
	}
	return defaultGatewayPort
}
