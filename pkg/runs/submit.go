package runs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/windrose-sh/windrose/pkg/events"
	"github.com/windrose-sh/windrose/pkg/jobs"
	"github.com/windrose-sh/windrose/pkg/metrics"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// Submit validates the run spec, materializes its job rows and commits
// everything in one transaction. The run comes back in SUBMITTED state;
// provisioning is the reconciler's job.
//
// Submitting under a name whose previous run finished retires that run's
// row and reuses the name. Submitting under the name of an active run is
// an error.
func (s *Service) Submit(ctx context.Context, user *types.User, project *types.Project, spec types.RunSpec) (*types.Run, error) {
	if s.registry.Len() == 0 {
		return nil, types.NewClientError("No backends configured")
	}
	if err := spec.Configuration.Validate(); err != nil {
		return nil, types.NewClientError("%s", err)
	}
	replicas, err := replicaCount(&spec.Configuration)
	if err != nil {
		return nil, err
	}

	unlock := s.projectMu.Lock(project.ID)
	defer unlock()

	if err := s.checkRepo(project, spec.RepoID); err != nil {
		return nil, err
	}

	if spec.RunName == "" {
		name, err := s.generateRunName(project.ID)
		if err != nil {
			return nil, err
		}
		spec.RunName = name
	} else if err := types.ValidateRunName(spec.RunName); err != nil {
		return nil, types.NewClientError("%s", err)
	}

	now := time.Now()
	run := &types.Run{
		ID:              uuid.New().String(),
		ProjectID:       project.ID,
		UserID:          user.ID,
		RepoID:          spec.RepoID,
		Name:            spec.RunName,
		Spec:            spec,
		Status:          types.RunStatusSubmitted,
		SubmittedAt:     now,
		LastProcessedAt: now,
	}

	var rows []*types.Job
	for replica := 0; replica < replicas; replica++ {
		jobSpecs, err := jobs.FromRunSpec(spec, replica)
		if err != nil {
			return nil, types.NewClientError("%s", err)
		}
		for _, jobSpec := range jobSpecs {
			rows = append(rows, jobs.NewSubmission(run, jobSpec, nil))
		}
	}

	// Services claim their domain before anything is written: a failed
	// nginx reload or certificate order must not leave a run behind.
	if spec.Configuration.Type == types.ConfigurationTypeService {
		if !s.gatewayEnabled() {
			return nil, types.NewClientError("Services require a gateway, and no gateway is configured")
		}
		domain, err := s.gateway.RegisterRun(ctx, project, run)
		if err != nil {
			return nil, err
		}
		run.GatewayDomain = domain
	}

	err = s.store.Update(func(tx storage.Tx) error {
		if err := retireRunName(tx, project.ID, run.Name); err != nil {
			return err
		}
		if err := tx.CreateRun(run); err != nil {
			return err
		}
		for _, job := range rows {
			if err := tx.CreateJob(job); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if run.GatewayDomain != "" {
			if uerr := s.gateway.UnregisterRun(ctx, run); uerr != nil {
				s.logger.Warn().Err(uerr).Str("run", run.Name).
					Msg("Failed to release gateway domain after aborted submission")
			}
		}
		return nil, err
	}

	metrics.RunsSubmitted.Inc()
	s.logger.Info().
		Str("project", project.Name).
		Str("run", run.Name).
		Str("user", user.Name).
		Int("jobs", len(rows)).
		Msg("Run submitted")
	s.publish(events.NewRunEvent(events.EventRunSubmitted, run, "Run submitted"))
	if run.GatewayDomain != "" {
		s.publish(events.NewRunEvent(events.EventDomainRegistered, run, "Serving at https://"+run.GatewayDomain))
	}
	return run, nil
}

// replicaCount resolves the service replica range to a fixed count.
// Tasks and dev environments always run a single replica.
func replicaCount(cfg *types.Configuration) (int, error) {
	if cfg.Type != types.ConfigurationTypeService {
		return 1, nil
	}
	r := cfg.Replicas
	if r.Min == nil && r.Max == nil {
		return 1, nil
	}
	if !r.Fixed() {
		return 0, types.NewClientError("Auto-scaling is not supported yet")
	}
	if *r.Min < 1 {
		return 0, types.NewClientError("Replicas count should be at least 1")
	}
	return *r.Min, nil
}

func (s *Service) checkRepo(project *types.Project, repoID string) error {
	return s.store.View(func(tx storage.Tx) error {
		repo, err := tx.GetRepo(repoID)
		if errors.Is(err, storage.ErrNotFound) {
			return types.NewClientError("Repo %s does not exist", repoID)
		}
		if err != nil {
			return err
		}
		if repo.ProjectID != project.ID {
			return types.NewClientError("Repo %s does not exist", repoID)
		}
		return nil
	})
}

// retireRunName frees the name by soft-deleting the finished run holding
// it. An active holder rejects the submission.
func retireRunName(tx storage.Tx, projectID, name string) error {
	existing, err := tx.GetRunByName(projectID, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !existing.Status.IsFinished() {
		return types.NewClientError("Run %s already exists and is still active", name)
	}
	existing.Deleted = true
	return tx.UpdateRun(existing)
}
