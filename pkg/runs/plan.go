package runs

import (
	"context"

	"github.com/windrose-sh/windrose/pkg/jobs"
	"github.com/windrose-sh/windrose/pkg/planner"
	"github.com/windrose-sh/windrose/pkg/pools"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// maxPlanOffers caps how many offers a plan carries per job. TotalOffers
// still reports the full count.
const maxPlanOffers = 50

// RunPlan previews where a run's jobs could land. Producing it leaves run
// state untouched: no run or job rows, no name reserved, no capacity
// provisioned. Referencing a pool may still create the pool itself.
type RunPlan struct {
	ProjectName string
	UserName    string
	RunSpec     types.RunSpec
	JobPlans    []JobPlan
}

// JobPlan is the offer preview for one job of the first replica.
type JobPlan struct {
	JobSpec     types.JobSpec
	Offers      []types.Offer
	TotalOffers int
	MaxPrice    *float64
}

// Plan resolves the spec against the current pool and backend capacity.
// Idle pool instances come first, in the order the pool filter ranks
// them; backend offers follow only when the profile allows creating
// instances. Offers beyond maxPlanOffers are trimmed.
func (s *Service) Plan(ctx context.Context, user *types.User, project *types.Project, spec types.RunSpec) (*RunPlan, error) {
	if spec.RunName != "" {
		if err := types.ValidateRunName(spec.RunName); err != nil {
			return nil, types.NewClientError("%s", err)
		}
	}
	if err := spec.Configuration.Validate(); err != nil {
		return nil, types.NewClientError("%s", err)
	}
	if _, err := replicaCount(&spec.Configuration); err != nil {
		return nil, err
	}

	pool, err := s.pools.GetOrCreatePool(project.ID, spec.Profile.PoolName)
	if err != nil {
		return nil, err
	}
	spec.Profile.PoolName = pool.Name

	var instances []*types.Instance
	err = s.store.View(func(tx storage.Tx) error {
		var err error
		instances, err = tx.ListInstancesByPool(pool.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Job materialization needs a name; a placeholder keeps unnamed
	// plans from reserving anything.
	planSpec := spec
	if planSpec.RunName == "" {
		planSpec.RunName = "dry-run"
	}
	jobSpecs, err := jobs.FromRunSpec(planSpec, 0)
	if err != nil {
		return nil, types.NewClientError("%s", err)
	}

	profile := &spec.Profile
	plan := &RunPlan{
		ProjectName: project.Name,
		UserName:    user.Name,
		RunSpec:     spec,
		JobPlans:    make([]JobPlan, 0, len(jobSpecs)),
	}
	for _, jobSpec := range jobSpecs {
		offers := pools.Offers(instances, profile, jobSpec.Requirements)
		if profile.EffectiveCreationPolicy() == types.CreationPolicyReuseOrCreate {
			offers = append(offers, s.planner.GetOffers(ctx, profile, jobSpec.Requirements, false)...)
		}

		jobPlan := JobPlan{
			JobSpec:     jobSpec,
			TotalOffers: len(offers),
			MaxPrice:    planner.MaxPrice(offers),
		}
		if len(offers) > maxPlanOffers {
			offers = offers[:maxPlanOffers]
		}
		jobPlan.Offers = offers
		plan.JobPlans = append(plan.JobPlans, jobPlan)
	}
	return plan, nil
}
