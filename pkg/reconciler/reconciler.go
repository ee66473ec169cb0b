package reconciler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/windrose-sh/windrose/pkg/backend"
	"github.com/windrose-sh/windrose/pkg/events"
	"github.com/windrose-sh/windrose/pkg/jobs"
	"github.com/windrose-sh/windrose/pkg/locker"
	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/metrics"
	"github.com/windrose-sh/windrose/pkg/pools"
	"github.com/windrose-sh/windrose/pkg/runner"
	"github.com/windrose-sh/windrose/pkg/runs"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// DefaultInterval is the pause between reconcile cycles.
const DefaultInterval = 5 * time.Second

// Config wires the reconciler's collaborators. Store, Runs, Pools and
// Registry are required; the rest default to working stand-ins.
type Config struct {
	Store    storage.Store
	Runs     *runs.Service
	Pools    *pools.Manager
	Registry *backend.Registry
	Gateway  runs.Gateway
	Runners  runner.Factory
	Events   *events.Broker

	// Interval between reconcile cycles. Zero selects DefaultInterval.
	Interval time.Duration

	// ProvisioningTimeout bounds how long a placed job or a jobless pool
	// instance may wait for its runner agent to answer. Zero selects
	// types.DefaultProvisioningTimeout.
	ProvisioningTimeout time.Duration
}

// Reconciler drives runs, jobs and instances toward their next state. Each
// cycle runs five passes: placing submitted jobs, polling placed jobs,
// finalizing terminating jobs, aggregating runs, and tending instances.
// Every item is handled under the lock service's phase discipline, so the
// passes coexist with user-triggered operations on the same rows.
type Reconciler struct {
	store      storage.Store
	runs       *runs.Service
	locks      *locker.Service
	pools      *pools.Manager
	registry   *backend.Registry
	gateway    runs.Gateway
	runners    runner.Factory
	events     *events.Broker
	terminator *jobs.Terminator

	interval            time.Duration
	provisioningTimeout time.Duration
	logger              zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// New creates a reconciler.
func New(cfg Config) *Reconciler {
	runners := cfg.Runners
	if runners == nil {
		runners = runner.DefaultFactory
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	timeout := cfg.ProvisioningTimeout
	if timeout == 0 {
		timeout = types.DefaultProvisioningTimeout
	}
	return &Reconciler{
		store:               cfg.Store,
		runs:                cfg.Runs,
		locks:               cfg.Runs.Locks(),
		pools:               cfg.Pools,
		registry:            cfg.Registry,
		gateway:             cfg.Gateway,
		runners:             runners,
		events:              cfg.Events,
		terminator:          jobs.NewTerminator(),
		interval:            interval,
		provisioningTimeout: timeout,
		logger:              log.WithComponent("reconciler"),
		stopCh:              make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler. The pass in flight finishes; its blocking
// calls are cancelled.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// run is the main reconciliation loop.
func (r *Reconciler) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopCh
		cancel()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reconcile(ctx)
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one reconciliation cycle. The pass order matters: a
// job marked TERMINATING by the polling pass is finalized by the
// terminating pass of the same cycle, and the runs pass then sees the
// final row.
func (r *Reconciler) Reconcile(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pass(ctx, "submitted_jobs", r.processSubmittedJobs)
	r.pass(ctx, "running_jobs", r.processRunningJobs)
	r.pass(ctx, "terminating_jobs", r.processTerminatingJobs)
	r.pass(ctx, "runs", r.processRuns)
	r.pass(ctx, "instances", r.processInstances)
}

// pass times one pass and folds its top-level failure into the metrics.
// Per-item failures are reported by the passes themselves and never abort
// the cycle.
func (r *Reconciler) pass(ctx context.Context, task string, fn func(context.Context) error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration.WithLabelValues(task))
		metrics.ReconcilePasses.WithLabelValues(task).Inc()
	}()

	if err := fn(ctx); err != nil {
		metrics.ReconcileErrors.WithLabelValues(task).Inc()
		r.logger.Error().Err(err).Str("task", task).Msg("Reconcile pass failed")
	}
}

func (r *Reconciler) failItem(task, item string, err error) {
	metrics.ReconcileErrors.WithLabelValues(task).Inc()
	r.logger.Error().Err(err).Str("task", task).Str("item", item).Msg("Failed to reconcile item")
}

// processSubmittedJobs places SUBMITTED jobs: the cheapest idle pool
// instance that fits wins, and when none does the profile decides whether
// a fresh instance may be created.
func (r *Reconciler) processSubmittedJobs(ctx context.Context) error {
	selected, err := r.selectJobs(types.JobStatusSubmitted)
	if err != nil {
		return err
	}
	for _, job := range selected {
		if err := r.withJobLock(locker.PhaseJobSubmitted, job, func(job *types.Job) error {
			return r.placeJob(ctx, job)
		}); err != nil {
			r.failItem("submitted_jobs", job.Name, err)
		}
	}
	return nil
}

// placeJob finds an instance for one SUBMITTED job. A capacity miss keeps
// the job SUBMITTED while its retry window is open and fails it once the
// window closes.
func (r *Reconciler) placeJob(ctx context.Context, job *types.Job) error {
	if job.Status != types.JobStatusSubmitted {
		return nil
	}

	var run *types.Run
	var project *types.Project
	var user *types.User
	if err := r.store.View(func(tx storage.Tx) error {
		var err error
		if run, err = tx.GetRun(job.RunID); err != nil {
			return err
		}
		if project, err = tx.GetProject(run.ProjectID); err != nil {
			return err
		}
		user, err = tx.GetUser(run.UserID)
		return err
	}); err != nil {
		return err
	}

	profile := &run.Spec.Profile
	pool, err := r.pools.GetOrCreatePool(project.ID, profile.PoolName)
	if err != nil {
		return err
	}

	reused, err := r.claimIdleInstance(job, profile, pool.ID)
	if err != nil {
		return err
	}
	if reused != nil {
		r.logger.Info().
			Str("run", run.Name).
			Str("job", job.Name).
			Str("instance", reused.Name).
			Msg("Job placed on idle instance")
		r.publish(events.NewJobEvent(events.EventJobStatusChanged, job, "Placed on instance "+reused.Name))
		return nil
	}

	if profile.EffectiveCreationPolicy() != types.CreationPolicyReuseOrCreate {
		// Reuse-only jobs queue until a pool instance frees up.
		return r.holdOrFail(job, run, "no idle instance in pool "+pool.Name)
	}

	instance, err := r.runs.CreateInstance(ctx, runs.CreateInstanceRequest{
		Project:       project,
		User:          user,
		PoolName:      pool.Name,
		InstanceName:  job.Name,
		UserPublicKey: run.Spec.SSHKeyPub,
		Profile:       profile,
		Requirements:  job.Spec.Requirements,
	})
	if err != nil {
		if types.IsClientError(err) {
			return r.holdOrFail(job, run, err.Error())
		}
		return err
	}
	if err := r.attachJob(job, instance); err != nil {
		return err
	}

	r.logger.Info().
		Str("run", run.Name).
		Str("job", job.Name).
		Str("instance", instance.Name).
		Msg("Job placed on new instance")
	r.publish(events.NewJobEvent(events.EventJobStatusChanged, job, "Placed on instance "+instance.Name))
	return nil
}

// claimIdleInstance places the job on the cheapest idle pool instance
// whose offer satisfies the requirements. Candidates are re-read inside
// the write transaction, so concurrent claims cannot share a machine.
// Returns nil when nothing fits.
func (r *Reconciler) claimIdleInstance(job *types.Job, profile *types.Profile, poolID string) (*types.Instance, error) {
	var claimed *types.Instance
	err := r.store.Update(func(tx storage.Tx) error {
		claimed = nil
		instances, err := tx.ListInstancesByPool(poolID)
		if err != nil {
			return err
		}
		idle := pools.FilterInstances(instances, profile, job.Spec.Requirements, types.InstanceStatusIdle)
		if len(idle) == 0 {
			return nil
		}
		sort.Slice(idle, func(i, j int) bool { return idle[i].Price < idle[j].Price })

		now := time.Now()
		instance := idle[0]
		instance.Status = types.InstanceStatusBusy
		instance.JobID = job.ID
		instance.IdleSince = time.Time{}
		if err := tx.UpdateInstance(instance); err != nil {
			return err
		}

		job.Status = types.JobStatusProvisioning
		job.InstanceID = instance.ID
		job.ProvisioningData = instance.ProvisioningData
		job.PlacedAt = now
		job.LastProcessedAt = now
		if err := tx.UpdateJob(job); err != nil {
			return err
		}
		claimed = instance
		return nil
	})
	return claimed, err
}

// attachJob binds a freshly created instance to the job. The instance row
// already exists; the machine boots in the background and the polling pass
// takes over from here.
func (r *Reconciler) attachJob(job *types.Job, instance *types.Instance) error {
	now := time.Now()
	return r.store.Update(func(tx storage.Tx) error {
		fresh, err := tx.GetInstance(instance.ID)
		if err != nil {
			return err
		}
		fresh.JobID = job.ID
		if err := tx.UpdateInstance(fresh); err != nil {
			return err
		}

		job.Status = types.JobStatusProvisioning
		job.InstanceID = fresh.ID
		job.ProvisioningData = fresh.ProvisioningData
		job.PlacedAt = now
		job.LastProcessedAt = now
		return tx.UpdateJob(job)
	})
}

// holdOrFail is the capacity-miss path for a submitted job: inside the
// retry window the job stays SUBMITTED for the next tick, afterwards it
// fails. The window applies whether or not the retry policy is on; the
// policy only controls resubmission after a failure.
func (r *Reconciler) holdOrFail(job *types.Job, run *types.Run, cause string) error {
	if r.runs.WithinRetryWindow(run, job, time.Now()) {
		r.logger.Debug().
			Str("run", run.Name).
			Str("job", job.Name).
			Str("cause", cause).
			Msg("No capacity for job, waiting")
		return r.touchJob(job)
	}
	r.logger.Warn().
		Str("run", run.Name).
		Str("job", job.Name).
		Str("cause", cause).
		Msg("No capacity for job, giving up")
	return r.finalizeJob(job, types.JobTerminationReasonFailedToStartNoCapacity, cause)
}

// processRunningJobs drives placed jobs by their runner agents: waiting
// for the agent to come up, handing over the spec, then polling state
// until the workload exits.
func (r *Reconciler) processRunningJobs(ctx context.Context) error {
	selected, err := r.selectJobs(types.JobStatusProvisioning, types.JobStatusPulling, types.JobStatusRunning)
	if err != nil {
		return err
	}
	for _, job := range selected {
		if err := r.withJobLock(locker.PhaseJobRunning, job, func(job *types.Job) error {
			return r.pollJob(ctx, job)
		}); err != nil {
			r.failItem("running_jobs", job.Name, err)
		}
	}
	return nil
}

// pollJob advances one placed job by talking to its runner agent.
func (r *Reconciler) pollJob(ctx context.Context, job *types.Job) error {
	switch job.Status {
	case types.JobStatusProvisioning, types.JobStatusPulling, types.JobStatusRunning:
	default:
		return nil
	}
	if job.ProvisioningData == nil {
		// Placement always records provisioning data; a row without it
		// cannot be driven and is failed rather than left to wedge.
		return r.finalizeJob(job, types.JobTerminationReasonTerminatedByServer, "job has no provisioning data")
	}

	agent := r.runners(job.ProvisioningData)

	if job.Status == types.JobStatusProvisioning {
		if _, err := agent.Healthcheck(ctx); err != nil {
			if time.Since(job.PlacedAt) > r.provisioningTimeout {
				r.logger.Warn().
					Str("job", job.Name).
					Dur("waited", time.Since(job.PlacedAt)).
					Msg("Runner did not come up in time")
				return r.finalizeJob(job, types.JobTerminationReasonWaitingRunnerLimit, "runner did not come up in time")
			}
			return r.touchJob(job) // machine still booting
		}
		if err := agent.Submit(ctx, job); err != nil {
			return err
		}
		return r.markJobPulling(job)
	}

	report, err := agent.Pull(ctx)
	if err != nil {
		return err
	}
	return r.applyStateReport(ctx, job, report)
}

// applyStateReport folds the agent's view into the job row.
func (r *Reconciler) applyStateReport(ctx context.Context, job *types.Job, report *runner.StateReport) error {
	switch report.Status {
	case types.JobStatusRunning:
		if job.Status != types.JobStatusRunning {
			return r.markJobRunning(ctx, job)
		}
		return r.touchJob(job)
	case types.JobStatusDone:
		return r.finishFromReport(job, types.JobTerminationReasonDoneByRunner, report)
	case types.JobStatusFailed:
		reason := report.TerminationReason
		if reason == "" {
			reason = types.JobTerminationReasonContainerExitedWithError
		}
		return r.finishFromReport(job, reason, report)
	default:
		// Still pulling, or no news.
		return r.touchJob(job)
	}
}

// finishFromReport handles a terminal agent report. A job that reached
// RUNNING moves to TERMINATING for the terminating pass; one that died
// while PULLING finalizes here, so the instance release decision still
// sees the status it died in.
func (r *Reconciler) finishFromReport(job *types.Job, reason types.JobTerminationReason, report *runner.StateReport) error {
	message := report.TerminationMessage
	if message == "" && report.ExitStatus != nil {
		message = fmt.Sprintf("container exited with status %d", *report.ExitStatus)
	}
	if job.Status == types.JobStatusRunning {
		return r.beginJobTermination(job, reason, message)
	}
	return r.finalizeJob(job, reason, message)
}

// markJobPulling records a successful handover to the agent. The machine
// answered, so the instance counts as started and busy from here.
func (r *Reconciler) markJobPulling(job *types.Job) error {
	now := time.Now()
	if err := r.store.Update(func(tx storage.Tx) error {
		job.Status = types.JobStatusPulling
		job.LastProcessedAt = now
		if err := tx.UpdateJob(job); err != nil {
			return err
		}

		if job.InstanceID == "" {
			return nil
		}
		instance, err := tx.GetInstance(job.InstanceID)
		if err != nil {
			return err
		}
		instance.Status = types.InstanceStatusBusy
		if instance.StartedAt.IsZero() {
			instance.StartedAt = now
		}
		return tx.UpdateInstance(instance)
	}); err != nil {
		return err
	}
	r.logger.Info().
		Str("run", job.RunName).
		Str("job", job.Name).
		Msg("Job handed to runner")
	return nil
}

// markJobRunning promotes the job to RUNNING and, for services, registers
// its replica with the gateway. Registration failure aborts the promotion;
// the next poll retries both.
func (r *Reconciler) markJobRunning(ctx context.Context, job *types.Job) error {
	var run *types.Run
	if err := r.store.View(func(tx storage.Tx) error {
		var err error
		run, err = tx.GetRun(job.RunID)
		return err
	}); err != nil {
		return err
	}

	if run.GatewayDomain != "" && r.gateway != nil {
		if err := r.gateway.AddReplica(ctx, run, job); err != nil {
			return fmt.Errorf("register replica with gateway: %w", err)
		}
	}

	job.Status = types.JobStatusRunning
	job.LastProcessedAt = time.Now()
	if err := r.store.Update(func(tx storage.Tx) error {
		return tx.UpdateJob(job)
	}); err != nil {
		return err
	}
	r.logger.Info().
		Str("run", job.RunName).
		Str("job", job.Name).
		Msg("Job running")
	r.publish(events.NewJobEvent(events.EventJobStatusChanged, job, "Job running"))
	return nil
}

// beginJobTermination moves the job to TERMINATING with the reason; the
// terminating-jobs pass completes it.
func (r *Reconciler) beginJobTermination(job *types.Job, reason types.JobTerminationReason, message string) error {
	job.Status = types.JobStatusTerminating
	job.TerminationReason = reason
	job.TerminationMessage = message
	job.LastProcessedAt = time.Now()
	return r.store.Update(func(tx storage.Tx) error {
		return tx.UpdateJob(job)
	})
}

// processTerminatingJobs finalizes jobs some flow moved to TERMINATING:
// the gateway replica goes first, then the instance is released and the
// final status written.
func (r *Reconciler) processTerminatingJobs(ctx context.Context) error {
	selected, err := r.selectJobs(types.JobStatusTerminating)
	if err != nil {
		return err
	}
	for _, job := range selected {
		if err := r.withJobLock(locker.PhaseJobTerminating, job, func(job *types.Job) error {
			return r.finishTerminatingJob(ctx, job)
		}); err != nil {
			r.failItem("terminating_jobs", job.Name, err)
		}
	}
	return nil
}

// finishTerminatingJob completes one TERMINATING job. Runners were
// signalled, or exited on their own, before the status flipped; only
// bookkeeping is left.
func (r *Reconciler) finishTerminatingJob(ctx context.Context, job *types.Job) error {
	if job.Status != types.JobStatusTerminating {
		return nil
	}
	reason := job.TerminationReason
	if reason == "" {
		reason = types.JobTerminationReasonTerminatedByServer
	}

	r.removeReplica(ctx, job)
	return r.finalizeJob(job, reason, job.TerminationMessage)
}

// removeReplica drops the job's gateway upstream if its run is a service.
// Best effort: the job finishes regardless, and a stale upstream goes away
// with the run's domain.
func (r *Reconciler) removeReplica(ctx context.Context, job *types.Job) {
	if r.gateway == nil {
		return
	}
	var run *types.Run
	if err := r.store.View(func(tx storage.Tx) error {
		var err error
		run, err = tx.GetRun(job.RunID)
		return err
	}); err != nil {
		r.logger.Warn().Err(err).Str("job", job.Name).Msg("Failed to load run for replica removal")
		return
	}
	if run.GatewayDomain == "" {
		return
	}
	if err := r.gateway.RemoveReplica(ctx, run, job); err != nil {
		r.logger.Warn().Err(err).
			Str("run", run.Name).
			Str("job", job.Name).
			Msg("Failed to remove gateway replica")
	}
}

// processRuns advances every unfinished run under the run-phase lock. Runs
// already being processed, by a stop call for instance, are skipped.
func (r *Reconciler) processRuns(ctx context.Context) error {
	var ids []string
	if err := r.store.View(func(tx storage.Tx) error {
		all, err := tx.ListRuns()
		if err != nil {
			return err
		}
		for _, run := range all {
			if !run.Status.IsFinished() {
				ids = append(ids, run.ID)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	for _, id := range ids {
		if !r.locks.TryAcquire(locker.PhaseRun, id) {
			continue
		}
		err := r.runs.ProcessRun(ctx, id)
		r.locks.Release(locker.PhaseRun, id)
		if err != nil {
			r.failItem("runs", id, err)
		}
	}
	return nil
}

// processInstances owns the instance lifecycle edges no job drives:
// tearing down TERMINATING machines, reaping idle ones past their idle
// time, and adopting instances provisioned without a job.
func (r *Reconciler) processInstances(ctx context.Context) error {
	var instances []*types.Instance
	if err := r.store.View(func(tx storage.Tx) error {
		projects, err := tx.ListProjects()
		if err != nil {
			return err
		}
		for _, project := range projects {
			rows, err := tx.ListInstancesByProject(project.ID)
			if err != nil {
				return err
			}
			for _, instance := range rows {
				if !instance.Status.IsFinished() {
					instances = append(instances, instance)
				}
			}
		}
		return nil
	}); err != nil {
		return err
	}

	for _, instance := range instances {
		if err := r.processInstance(ctx, instance); err != nil {
			r.failItem("instances", instance.Name, err)
		}
	}
	return nil
}

func (r *Reconciler) processInstance(ctx context.Context, instance *types.Instance) error {
	switch instance.Status {
	case types.InstanceStatusTerminating:
		return r.terminateInstance(ctx, instance)
	case types.InstanceStatusIdle:
		return r.reapIdleInstance(ctx, instance)
	case types.InstanceStatusPending, types.InstanceStatusProvisioning:
		if instance.JobID != "" {
			return nil // the job passes drive it
		}
		return r.adoptInstance(ctx, instance)
	}
	return nil
}

// terminateInstance releases the machine at its backend and closes the
// row. Remote instances have no backend to call; their rows just close.
func (r *Reconciler) terminateInstance(ctx context.Context, instance *types.Instance) error {
	if instance.Backend != types.BackendTypeRemote && instance.ProvisioningData != nil && instance.ProvisioningData.InstanceID != "" {
		b, ok := r.registry.Get(instance.Backend)
		if !ok {
			r.logger.Warn().
				Str("instance", instance.Name).
				Str("backend", string(instance.Backend)).
				Msg("Backend not configured, closing row without teardown")
		} else if err := b.Compute().TerminateInstance(ctx, instance.Region, instance.ProvisioningData.InstanceID); err != nil {
			return fmt.Errorf("terminate %s on %s: %w", instance.Name, instance.Backend, err)
		}
	}

	now := time.Now()
	if err := r.store.Update(func(tx storage.Tx) error {
		fresh, err := tx.GetInstance(instance.ID)
		if err != nil {
			return err
		}
		fresh.Status = types.InstanceStatusTerminated
		fresh.FinishedAt = now
		*instance = *fresh
		return tx.UpdateInstance(fresh)
	}); err != nil {
		return err
	}
	r.logger.Info().
		Str("instance", instance.Name).
		Str("backend", string(instance.Backend)).
		Msg("Instance terminated")
	r.publish(events.NewInstanceEvent(events.EventInstanceTerminated, instance, "Instance terminated"))
	return nil
}

// reapIdleInstance tears down an idle instance whose termination policy
// says it should not outlive its idle time.
func (r *Reconciler) reapIdleInstance(ctx context.Context, instance *types.Instance) error {
	if instance.TerminationPolicy != types.TerminationPolicyDestroyAfterIdle {
		return nil
	}
	idleTime := instance.TerminationIdleTime
	if idleTime == 0 {
		idleTime = types.DefaultPoolIdleDuration
	}
	if instance.IdleSince.IsZero() || time.Since(instance.IdleSince) < idleTime {
		return nil
	}

	marked := false
	if err := r.store.Update(func(tx storage.Tx) error {
		marked = false
		fresh, err := tx.GetInstance(instance.ID)
		if err != nil {
			return err
		}
		// Re-check under the write lock; a job may have claimed the
		// instance since the snapshot.
		if fresh.Status != types.InstanceStatusIdle || fresh.JobID != "" {
			return nil
		}
		fresh.Status = types.InstanceStatusTerminating
		*instance = *fresh
		marked = true
		return tx.UpdateInstance(fresh)
	}); err != nil {
		return err
	}
	if !marked {
		return nil
	}
	r.logger.Info().
		Str("instance", instance.Name).
		Str("pool_id", instance.PoolID).
		Msg("Idle instance expired")
	return r.terminateInstance(ctx, instance)
}

// adoptInstance waits for a machine provisioned without a job, a pool
// addition or a remote registration, to answer health checks, then files
// it into the pool as idle capacity. A machine that never answers is torn
// down once the provisioning deadline passes.
func (r *Reconciler) adoptInstance(ctx context.Context, instance *types.Instance) error {
	if instance.ProvisioningData == nil {
		return fmt.Errorf("instance %s has no provisioning data", instance.Name)
	}

	if _, err := r.runners(instance.ProvisioningData).Healthcheck(ctx); err != nil {
		if time.Since(instance.CreatedAt) <= r.provisioningTimeout {
			return nil // still booting
		}
		r.logger.Warn().Err(err).
			Str("instance", instance.Name).
			Msg("Instance never became healthy, terminating")
		if err := r.store.Update(func(tx storage.Tx) error {
			fresh, err := tx.GetInstance(instance.ID)
			if err != nil {
				return err
			}
			fresh.Status = types.InstanceStatusTerminating
			*instance = *fresh
			return tx.UpdateInstance(fresh)
		}); err != nil {
			return err
		}
		return r.terminateInstance(ctx, instance)
	}

	now := time.Now()
	if err := r.store.Update(func(tx storage.Tx) error {
		fresh, err := tx.GetInstance(instance.ID)
		if err != nil {
			return err
		}
		if fresh.JobID != "" || (fresh.Status != types.InstanceStatusPending && fresh.Status != types.InstanceStatusProvisioning) {
			return nil
		}
		if fresh.Offer == nil {
			// Remote machines registered with add-remote have no offer
			// snapshot; placement filters on it, so derive one here.
			fresh.Offer = &types.Offer{
				Backend:  fresh.Backend,
				Region:   fresh.Region,
				Instance: fresh.ProvisioningData.Instance,
				Price:    fresh.Price,
				Runtime:  fresh.ProvisioningData.Runtime,
			}
		}
		fresh.Status = types.InstanceStatusIdle
		if fresh.StartedAt.IsZero() {
			fresh.StartedAt = now
		}
		fresh.IdleSince = now
		*instance = *fresh
		return tx.UpdateInstance(fresh)
	}); err != nil {
		return err
	}
	r.logger.Info().
		Str("instance", instance.Name).
		Str("backend", string(instance.Backend)).
		Msg("Instance joined pool")
	return nil
}

// withJobLock runs fn on the job under the given phase lock. Run
// processing has precedence: once the lock is held, a job whose run is
// being processed is let go untouched. The row is re-read under the lock
// so fn always sees the current state.
func (r *Reconciler) withJobLock(phase locker.Phase, job *types.Job, fn func(*types.Job) error) error {
	if !r.locks.TryAcquire(phase, job.ID) {
		return nil // another worker owns it
	}
	defer r.locks.Release(phase, job.ID)

	if r.locks.Contains(locker.PhaseRun, job.RunID) {
		return nil
	}

	fresh, err := r.getJob(job.ID)
	if err != nil {
		return err
	}
	return fn(fresh)
}

// selectJobs snapshots the jobs currently in any of the given statuses,
// least recently processed first.
func (r *Reconciler) selectJobs(statuses ...types.JobStatus) ([]*types.Job, error) {
	var selected []*types.Job
	err := r.store.View(func(tx storage.Tx) error {
		all, err := tx.ListJobs()
		if err != nil {
			return err
		}
		selected = lo.Filter(all, func(job *types.Job, _ int) bool {
			return lo.Contains(statuses, job.Status)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].LastProcessedAt.Before(selected[j].LastProcessedAt)
	})
	return selected, nil
}

func (r *Reconciler) getJob(id string) (*types.Job, error) {
	var job *types.Job
	err := r.store.View(func(tx storage.Tx) error {
		var err error
		job, err = tx.GetJob(id)
		return err
	})
	return job, err
}

// finalizeJob terminates the job in one transaction, releasing the
// instance it holds.
func (r *Reconciler) finalizeJob(job *types.Job, reason types.JobTerminationReason, message string) error {
	if err := r.store.Update(func(tx storage.Tx) error {
		fresh, err := tx.GetJob(job.ID)
		if err != nil {
			return err
		}
		*job = *fresh
		return r.terminator.Terminate(tx, job, reason, message)
	}); err != nil {
		return err
	}
	r.publish(events.NewJobEvent(events.EventJobStatusChanged, job, "Job "+string(job.Status)))
	return nil
}

// touchJob persists LastProcessedAt so stalled jobs are visible.
func (r *Reconciler) touchJob(job *types.Job) error {
	job.LastProcessedAt = time.Now()
	return r.store.Update(func(tx storage.Tx) error {
		return tx.UpdateJob(job)
	})
}

func (r *Reconciler) publish(event *events.Event) {
	if r.events != nil {
		r.events.Publish(event)
	}
}
