package jobs

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// Terminator finalizes jobs and releases the instances they ran on.
type Terminator struct {
	logger zerolog.Logger
}

// NewTerminator creates a job terminator.
func NewTerminator() *Terminator {
	return &Terminator{logger: log.WithComponent("jobs")}
}

// Terminate moves the job to its final status for the given reason and
// releases its instance inside the caller's transaction. Finished jobs are
// left untouched, so termination is safe to repeat.
func (t *Terminator) Terminate(tx storage.Tx, job *types.Job, reason types.JobTerminationReason, message string) error {
	if job.Status.IsFinished() {
		return nil
	}

	if job.InstanceID != "" {
		if err := t.releaseInstance(tx, job, reason); err != nil {
			return err
		}
	}

	now := time.Now()
	job.Status = reason.ToJobStatus()
	job.TerminationReason = reason
	job.TerminationMessage = message
	job.FinishedAt = now
	job.LastProcessedAt = now

	t.logger.Info().
		Str("run_id", job.RunID).
		Str("job", job.Name).
		Int("submission_num", job.SubmissionNum).
		Str("status", string(job.Status)).
		Str("reason", string(reason)).
		Msg("job terminated")

	return tx.UpdateJob(job)
}

// releaseInstance detaches the job from its instance. An instance whose
// provisioning never completed cannot be trusted for reuse and is torn
// down instead of returned to the pool.
func (t *Terminator) releaseInstance(tx storage.Tx, job *types.Job, reason types.JobTerminationReason) error {
	instance, err := tx.GetInstance(job.InstanceID)
	if errors.Is(err, storage.ErrNotFound) {
		t.logger.Warn().
			Str("job", job.Name).
			Str("instance_id", job.InstanceID).
			Msg("job references a missing instance, skipping release")
		return nil
	}
	if err != nil {
		return err
	}

	if instance.Status.IsFinished() || instance.Status == types.InstanceStatusTerminating {
		return nil
	}

	instance.JobID = ""
	if brokenProvisioning(job, reason) {
		instance.Status = types.InstanceStatusTerminating
	} else {
		instance.Status = types.InstanceStatusIdle
		instance.IdleSince = time.Now()
	}

	t.logger.Debug().
		Str("instance", instance.Name).
		Str("status", string(instance.Status)).
		Msg("released instance")

	return tx.UpdateInstance(instance)
}

// brokenProvisioning reports whether the job died before its instance was
// ever usable.
func brokenProvisioning(job *types.Job, reason types.JobTerminationReason) bool {
	if job.Status != types.JobStatusProvisioning && job.Status != types.JobStatusPulling {
		return false
	}
	switch reason {
	case types.JobTerminationReasonFailedToStartNoCapacity,
		types.JobTerminationReasonWaitingRunnerLimit,
		types.JobTerminationReasonContainerExitedWithError:
		return true
	}
	return false
}
