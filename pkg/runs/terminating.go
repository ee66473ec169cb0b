package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/windrose-sh/windrose/pkg/events"
	"github.com/windrose-sh/windrose/pkg/locker"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// StopRuns stops the named runs of a project. With abort the runners are
// not asked to shut down first; jobs are cut off where they stand. Names
// that do not resolve to an active run are ignored.
func (s *Service) StopRuns(ctx context.Context, projectID string, names []string, abort bool) error {
	var targets []string
	err := s.store.View(func(tx storage.Tx) error {
		for _, name := range names {
			run, err := tx.GetRunByName(projectID, name)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !run.Status.IsFinished() {
				targets = append(targets, run.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range targets {
		if err := s.stopRun(ctx, id, abort); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) stopRun(ctx context.Context, runID string, abort bool) error {
	if err := s.locks.Acquire(ctx, locker.PhaseRun, runID); err != nil {
		return err
	}
	defer s.locks.Release(locker.PhaseRun, runID)

	var run *types.Run
	err := s.store.View(func(tx storage.Tx) error {
		var err error
		run, err = tx.GetRun(runID)
		return err
	})
	if err != nil {
		return err
	}
	if run.Status.IsFinished() {
		return nil
	}

	reason := types.RunTerminationReasonStoppedByUser
	if abort {
		reason = types.RunTerminationReasonAbortedByUser
	}
	return s.terminateRun(ctx, run, reason)
}

// terminateRun moves the run to TERMINATING for the reason and drives the
// termination as far as it can go right away. The caller holds the run in
// locker.PhaseRun.
func (s *Service) terminateRun(ctx context.Context, run *types.Run, reason types.RunTerminationReason) error {
	run.Status = types.RunStatusTerminating
	run.TerminationReason = reason
	run.LastProcessedAt = time.Now()
	if err := s.store.Update(func(tx storage.Tx) error {
		return tx.UpdateRun(run)
	}); err != nil {
		return err
	}
	s.publish(events.NewRunEvent(events.EventRunTerminating, run, string(reason)))
	return s.ProcessTerminatingRun(ctx, run)
}

// ProcessTerminatingRun drives a TERMINATING run toward its final status.
// It waits for the run's jobs to leave the job reconciler phases, signals
// runners that deserve a graceful stop, terminates the remaining jobs in
// one transaction, releases the gateway domain and finalizes the run.
//
// Jobs an earlier pass already moved to TERMINATING stay with the
// terminating-jobs reconciler; while any such job remains unfinished the
// run stays TERMINATING and a later pass picks it up again. The caller
// holds the run in locker.PhaseRun.
func (s *Service) ProcessTerminatingRun(ctx context.Context, run *types.Run) error {
	if run.Status != types.RunStatusTerminating {
		return fmt.Errorf("run %s is not terminating", run.Name)
	}

	jobReason := run.TerminationReason.ToJobTerminationReason()

	var rows []*types.Job
	if err := s.store.View(func(tx storage.Tx) error {
		var err error
		rows, err = tx.ListJobsByRun(run.ID)
		return err
	}); err != nil {
		return err
	}

	ids := make([]string, 0, len(rows))
	for _, job := range rows {
		ids = append(ids, job.ID)
	}
	if err := s.locks.WaitEmpty(ctx, locker.JobPhases(), ids); err != nil {
		return err
	}

	// Re-read after the drain: a reconciler may have advanced a job while
	// we waited. From here the rows are stable, since holding the run in
	// PhaseRun keeps job reconcilers away.
	if err := s.store.View(func(tx storage.Tx) error {
		var err error
		rows, err = tx.ListJobsByRun(run.ID)
		return err
	}); err != nil {
		return err
	}

	// Runner stops happen outside the transaction; each one is a network
	// round trip. A runner that cannot be reached is terminated anyway.
	for _, job := range rows {
		if !types.NeedsRunnerStop(job.Status, jobReason) || job.ProvisioningData == nil {
			continue
		}
		if err := s.runners(job.ProvisioningData).Stop(ctx, true); err != nil {
			s.logger.Warn().Err(err).
				Str("run", run.Name).
				Str("job", job.Name).
				Msg("Failed to stop runner, terminating anyway")
		}
	}

	unfinished := 0
	err := s.store.Update(func(tx storage.Tx) error {
		unfinished = 0
		for _, row := range rows {
			job, err := tx.GetJob(row.ID)
			if err != nil {
				return err
			}
			if job.Status.IsFinished() {
				continue
			}
			if job.Status == types.JobStatusTerminating {
				unfinished++
				continue
			}
			if err := s.terminator.Terminate(tx, job, jobReason, ""); err != nil {
				return err
			}
			if !job.Status.IsFinished() {
				unfinished++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if unfinished > 0 {
		return s.touchRun(run)
	}

	if run.GatewayDomain != "" && s.gateway != nil {
		if err := s.gateway.UnregisterRun(ctx, run); err != nil {
			// The run finishes regardless; a stale nginx site is operator
			// cleanup, not a stuck run.
			s.logger.Error().Err(err).
				Str("run", run.Name).
				Str("domain", run.GatewayDomain).
				Msg("Failed to release gateway domain")
		} else {
			s.publish(events.NewRunEvent(events.EventDomainUnregistered, run, "Gateway domain released"))
		}
	}

	run.Status = run.TerminationReason.ToRunStatus()
	run.LastProcessedAt = time.Now()
	if err := s.store.Update(func(tx storage.Tx) error {
		return tx.UpdateRun(run)
	}); err != nil {
		return err
	}
	s.logger.Info().
		Str("run", run.Name).
		Str("status", string(run.Status)).
		Str("reason", string(run.TerminationReason)).
		Msg("Run finished")
	s.publish(events.NewRunEvent(events.EventRunFinished, run, "Run finished"))
	return nil
}
