package runs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-sh/windrose/pkg/jobs"
	"github.com/windrose-sh/windrose/pkg/types"
)

func (e *testEnv) finishJob(id string, status types.JobStatus, reason types.JobTerminationReason) {
	e.t.Helper()
	e.updateJob(id, func(job *types.Job) {
		job.Status = status
		job.TerminationReason = reason
		job.FinishedAt = time.Now()
	})
}

// TestProcessRunAllJobsDone tests that a run whose jobs all finished
// cleanly terminates as DONE
func TestProcessRunAllJobsDone(t *testing.T) {
	env := newTestEnv(t)

	run := env.submit(taskSpec("demo"))
	rows := env.getJobs(run.ID)
	env.finishJob(rows[0].ID, types.JobStatusDone, types.JobTerminationReasonDoneByRunner)

	require.NoError(t, env.service.ProcessRun(context.Background(), run.ID))

	stored := env.getRun(run.ID)
	assert.Equal(t, types.RunStatusDone, stored.Status)
	assert.Equal(t, types.RunTerminationReasonAllJobsDone, stored.TerminationReason)
}

// TestProcessRunJobFailedTerminates tests that a failed job without retry
// fails the whole run
func TestProcessRunJobFailedTerminates(t *testing.T) {
	env := newTestEnv(t)

	run := env.submit(taskSpec("demo"))
	rows := env.getJobs(run.ID)
	env.finishJob(rows[0].ID, types.JobStatusFailed, types.JobTerminationReasonContainerExitedWithError)

	require.NoError(t, env.service.ProcessRun(context.Background(), run.ID))

	stored := env.getRun(run.ID)
	assert.Equal(t, types.RunStatusFailed, stored.Status)
	assert.Equal(t, types.RunTerminationReasonJobFailed, stored.TerminationReason)
}

// TestProcessRunRetriesWithinWindow tests that a retryable failure spawns
// a fresh submission and re-submits the run
func TestProcessRunRetriesWithinWindow(t *testing.T) {
	env := newTestEnv(t)

	spec := taskSpec("demo")
	spec.Profile.RetryPolicy = types.RetryPolicy{Retry: true, Limit: types.Duration(time.Hour)}
	run := env.submit(spec)
	rows := env.getJobs(run.ID)
	env.finishJob(rows[0].ID, types.JobStatusFailed, types.JobTerminationReasonFailedToStartNoCapacity)

	require.NoError(t, env.service.ProcessRun(context.Background(), run.ID))

	all := env.getJobs(run.ID)
	require.Len(t, all, 2)
	latest := jobs.Latest(all)
	require.Len(t, latest, 1)
	assert.Equal(t, 1, latest[0].SubmissionNum)
	assert.Equal(t, types.JobStatusSubmitted, latest[0].Status)
	assert.Equal(t, rows[0].Name, latest[0].Name)

	stored := env.getRun(run.ID)
	assert.Equal(t, types.RunStatusSubmitted, stored.Status)
	assert.Empty(t, stored.TerminationReason)
}

// TestProcessRunRetryLimitExceeded tests that the retry window is measured
// from run submission
func TestProcessRunRetryLimitExceeded(t *testing.T) {
	env := newTestEnv(t)

	spec := taskSpec("demo")
	spec.Profile.RetryPolicy = types.RetryPolicy{Retry: true, Limit: types.Duration(time.Minute)}
	run := env.submit(spec)
	env.updateRun(run.ID, func(r *types.Run) {
		r.SubmittedAt = time.Now().Add(-2 * time.Hour)
	})
	rows := env.getJobs(run.ID)
	env.finishJob(rows[0].ID, types.JobStatusFailed, types.JobTerminationReasonFailedToStartNoCapacity)

	require.NoError(t, env.service.ProcessRun(context.Background(), run.ID))

	stored := env.getRun(run.ID)
	assert.Equal(t, types.RunStatusFailed, stored.Status)
	assert.Equal(t, types.RunTerminationReasonRetryLimitExceeded, stored.TerminationReason)
	assert.Len(t, env.getJobs(run.ID), 1)
}

// TestProcessRunNonRetryableReason tests that only retryable reasons
// qualify for resubmission even with retry enabled
func TestProcessRunNonRetryableReason(t *testing.T) {
	env := newTestEnv(t)

	spec := taskSpec("demo")
	spec.Profile.RetryPolicy = types.RetryPolicy{Retry: true, Limit: types.Duration(time.Hour)}
	run := env.submit(spec)
	rows := env.getJobs(run.ID)
	env.finishJob(rows[0].ID, types.JobStatusTerminated, types.JobTerminationReasonTerminatedByServer)

	require.NoError(t, env.service.ProcessRun(context.Background(), run.ID))

	stored := env.getRun(run.ID)
	assert.Equal(t, types.RunStatusFailed, stored.Status)
	assert.Equal(t, types.RunTerminationReasonJobFailed, stored.TerminationReason)
}

// TestProcessRunAggregatesStatus tests the submitted/provisioning/running
// roll-up across a multi-node task
func TestProcessRunAggregatesStatus(t *testing.T) {
	env := newTestEnv(t)

	spec := taskSpec("cluster")
	spec.Configuration.Nodes = 2
	run := env.submit(spec)
	rows := env.getJobs(run.ID)
	require.Len(t, rows, 2)

	// One node provisioning dominates the aggregate.
	env.updateJob(rows[0].ID, func(job *types.Job) {
		job.Status = types.JobStatusProvisioning
	})
	require.NoError(t, env.service.ProcessRun(context.Background(), run.ID))
	assert.Equal(t, types.RunStatusProvisioning, env.getRun(run.ID).Status)

	// Everything running moves the run to RUNNING.
	for _, row := range rows {
		env.updateJob(row.ID, func(job *types.Job) {
			job.Status = types.JobStatusRunning
		})
	}
	require.NoError(t, env.service.ProcessRun(context.Background(), run.ID))
	assert.Equal(t, types.RunStatusRunning, env.getRun(run.ID).Status)

	// One node finishing while the other runs keeps the run RUNNING.
	env.finishJob(rows[0].ID, types.JobStatusDone, types.JobTerminationReasonDoneByRunner)
	require.NoError(t, env.service.ProcessRun(context.Background(), run.ID))
	assert.Equal(t, types.RunStatusRunning, env.getRun(run.ID).Status)
}

// TestProcessRunLatestSubmissionWins tests that superseded rows do not
// influence the aggregate
func TestProcessRunLatestSubmissionWins(t *testing.T) {
	env := newTestEnv(t)

	spec := taskSpec("demo")
	spec.Profile.RetryPolicy = types.RetryPolicy{Retry: true, Limit: types.Duration(time.Hour)}
	run := env.submit(spec)
	rows := env.getJobs(run.ID)
	env.finishJob(rows[0].ID, types.JobStatusFailed, types.JobTerminationReasonFailedToStartNoCapacity)
	require.NoError(t, env.service.ProcessRun(context.Background(), run.ID))

	retry := jobs.Latest(env.getJobs(run.ID))[0]
	env.finishJob(retry.ID, types.JobStatusDone, types.JobTerminationReasonDoneByRunner)
	require.NoError(t, env.service.ProcessRun(context.Background(), run.ID))

	stored := env.getRun(run.ID)
	assert.Equal(t, types.RunStatusDone, stored.Status)
	assert.Equal(t, types.RunTerminationReasonAllJobsDone, stored.TerminationReason)
}

// TestProcessRunFinishedIsNoop tests that terminal runs are left alone
func TestProcessRunFinishedIsNoop(t *testing.T) {
	env := newTestEnv(t)

	run := env.submit(taskSpec("demo"))
	env.updateRun(run.ID, func(r *types.Run) {
		r.Status = types.RunStatusDone
	})

	require.NoError(t, env.service.ProcessRun(context.Background(), run.ID))
	assert.Equal(t, types.RunStatusDone, env.getRun(run.ID).Status)
}
