package runs

import (
	"context"
	"time"

	"github.com/windrose-sh/windrose/pkg/jobs"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// ProcessRun advances a run one step. Terminating runs are driven toward
// their final status; active runs aggregate the newest submission of each
// job slot and decide whether to retry, terminate or just update the
// aggregate status. Finished runs are left alone. The caller holds the
// run in locker.PhaseRun.
func (s *Service) ProcessRun(ctx context.Context, runID string) error {
	var run *types.Run
	var rows []*types.Job
	if err := s.store.View(func(tx storage.Tx) error {
		var err error
		run, err = tx.GetRun(runID)
		if err != nil {
			return err
		}
		rows, err = tx.ListJobsByRun(runID)
		return err
	}); err != nil {
		return err
	}

	if run.Status.IsFinished() {
		return nil
	}
	if run.Status == types.RunStatusTerminating {
		return s.ProcessTerminatingRun(ctx, run)
	}
	return s.processActiveRun(ctx, run, rows)
}

func (s *Service) processActiveRun(ctx context.Context, run *types.Run, rows []*types.Job) error {
	now := time.Now()
	latest := jobs.Latest(rows)

	var unfinished, failed []*types.Job
	for _, job := range latest {
		switch {
		case !job.Status.IsFinished():
			unfinished = append(unfinished, job)
		case job.Status != types.JobStatusDone:
			failed = append(failed, job)
		}
	}

	// A failed slot decides the run's fate before anything else: either
	// every failure is retryable and inside the window, or the run stops.
	if len(failed) > 0 {
		for _, job := range failed {
			if !job.TerminationReason.IsRetryable() || !job.Spec.RetryPolicy.Retry {
				return s.terminateRun(ctx, run, types.RunTerminationReasonJobFailed)
			}
			if !s.WithinRetryWindow(run, job, now) {
				return s.terminateRun(ctx, run, types.RunTerminationReasonRetryLimitExceeded)
			}
		}
		return s.resubmitJobs(run, failed)
	}

	if len(unfinished) == 0 {
		return s.terminateRun(ctx, run, types.RunTerminationReasonAllJobsDone)
	}

	status := aggregateStatus(unfinished, run.Status)
	if status != run.Status {
		s.logger.Debug().
			Str("run", run.Name).
			Str("from", string(run.Status)).
			Str("to", string(status)).
			Msg("Run status changed")
		run.Status = status
	}
	return s.touchRun(run)
}

// aggregateStatus folds the unfinished job statuses into a run status.
// Anything being provisioned dominates, a fully running set is RUNNING,
// a fully submitted set is SUBMITTED; mixtures keep the current status.
func aggregateStatus(unfinished []*types.Job, current types.RunStatus) types.RunStatus {
	anyProvisioning := false
	allRunning := len(unfinished) > 0
	allSubmitted := len(unfinished) > 0
	for _, job := range unfinished {
		switch job.Status {
		case types.JobStatusProvisioning, types.JobStatusPulling:
			anyProvisioning = true
			allRunning = false
			allSubmitted = false
		case types.JobStatusRunning:
			allSubmitted = false
		case types.JobStatusSubmitted:
			allRunning = false
		default:
			allRunning = false
			allSubmitted = false
		}
	}
	switch {
	case anyProvisioning:
		return types.RunStatusProvisioning
	case allRunning:
		return types.RunStatusRunning
	case allSubmitted:
		return types.RunStatusSubmitted
	}
	return current
}

// WithinRetryWindow reports whether the job's capacity-retry window is
// still open. The window opens at run submission and closes after the
// retry policy limit, or the service default when the policy names none.
// It gates both resubmission of failed jobs and how long a submitted job
// may sit waiting for capacity.
func (s *Service) WithinRetryWindow(run *types.Run, job *types.Job, now time.Time) bool {
	limit := job.Spec.RetryPolicy.Limit.Std()
	if limit == 0 {
		limit = s.retryLimit
	}
	return now.Sub(run.SubmittedAt) < limit
}

// resubmitJobs appends a fresh submission for every failed slot and
// recomputes the run status over the new latest set. Numbering stays
// contiguous because the new rows are counted off the run's full row set
// inside the same transaction.
func (s *Service) resubmitJobs(run *types.Run, failed []*types.Job) error {
	now := time.Now()
	return s.store.Update(func(tx storage.Tx) error {
		all, err := tx.ListJobsByRun(run.ID)
		if err != nil {
			return err
		}
		for _, job := range failed {
			submission := jobs.NewSubmission(run, job.Spec, all)
			if err := tx.CreateJob(submission); err != nil {
				return err
			}
			all = append(all, submission)
			s.logger.Info().
				Str("run", run.Name).
				Str("job", job.Name).
				Int("submission_num", submission.SubmissionNum).
				Str("reason", string(job.TerminationReason)).
				Msg("Retrying failed job")
		}

		var unfinished []*types.Job
		for _, job := range jobs.Latest(all) {
			if !job.Status.IsFinished() {
				unfinished = append(unfinished, job)
			}
		}
		run.Status = aggregateStatus(unfinished, run.Status)
		run.LastProcessedAt = now
		return tx.UpdateRun(run)
	})
}
