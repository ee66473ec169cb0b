package runs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

func runningData(hostname string) *types.ProvisioningData {
	return &types.ProvisioningData{
		Backend:    types.BackendTypeAWS,
		Hostname:   hostname,
		Username:   "ubuntu",
		SSHPort:    22,
		Runtime:    types.InstanceRuntimeShim,
		RunnerPort: 10999,
	}
}

// TestStopRunGraceful tests that stopping a running job signals its runner
// and finalizes run and job as terminated by the user
func TestStopRunGraceful(t *testing.T) {
	env := newTestEnv(t)

	run := env.submit(taskSpec("demo"))
	rows := env.getJobs(run.ID)
	require.Len(t, rows, 1)
	env.updateJob(rows[0].ID, func(job *types.Job) {
		job.Status = types.JobStatusRunning
		job.ProvisioningData = runningData("10.9.0.1")
	})

	require.NoError(t, env.service.StopRuns(context.Background(), "p1", []string{"demo"}, false))

	stored := env.getRun(run.ID)
	assert.Equal(t, types.RunStatusTerminated, stored.Status)
	assert.Equal(t, types.RunTerminationReasonStoppedByUser, stored.TerminationReason)

	job := env.getJobs(run.ID)[0]
	assert.Equal(t, types.JobStatusTerminated, job.Status)
	assert.Equal(t, types.JobTerminationReasonTerminatedByUser, job.TerminationReason)
	assert.False(t, job.FinishedAt.IsZero())

	assert.Equal(t, []bool{true}, env.agents.get("10.9.0.1").stopCalls())
}

// TestStopRunAbort tests that aborting skips the runner and marks the job
// aborted
func TestStopRunAbort(t *testing.T) {
	env := newTestEnv(t)

	run := env.submit(taskSpec("demo"))
	rows := env.getJobs(run.ID)
	env.updateJob(rows[0].ID, func(job *types.Job) {
		job.Status = types.JobStatusRunning
		job.ProvisioningData = runningData("10.9.0.2")
	})

	require.NoError(t, env.service.StopRuns(context.Background(), "p1", []string{"demo"}, true))

	stored := env.getRun(run.ID)
	assert.Equal(t, types.RunStatusTerminated, stored.Status)
	assert.Equal(t, types.RunTerminationReasonAbortedByUser, stored.TerminationReason)

	job := env.getJobs(run.ID)[0]
	assert.Equal(t, types.JobStatusAborted, job.Status)
	assert.Equal(t, types.JobTerminationReasonAbortedByUser, job.TerminationReason)

	assert.Empty(t, env.agents.get("10.9.0.2").stopCalls())
}

// TestStopReleasesGatewayDomain tests that a stopped service run frees its
// domain exactly when the run finishes
func TestStopReleasesGatewayDomain(t *testing.T) {
	env := newTestEnv(t)

	run := env.submit(serviceSpec("web", 1))
	rows := env.getJobs(run.ID)
	env.updateJob(rows[0].ID, func(job *types.Job) {
		job.Status = types.JobStatusRunning
		job.ProvisioningData = runningData("10.9.0.3")
	})

	require.NoError(t, env.service.StopRuns(context.Background(), "p1", []string{"web"}, false))

	assert.Equal(t, []string{"web"}, env.gateway.unregistered)
	assert.Equal(t, types.RunStatusTerminated, env.getRun(run.ID).Status)
}

// TestStopRunSubmittedJob tests that a job which never provisioned is
// terminated without runner interaction
func TestStopRunSubmittedJob(t *testing.T) {
	env := newTestEnv(t)

	run := env.submit(taskSpec("demo"))

	require.NoError(t, env.service.StopRuns(context.Background(), "p1", []string{"demo"}, false))

	job := env.getJobs(run.ID)[0]
	assert.Equal(t, types.JobStatusTerminated, job.Status)
	assert.Equal(t, types.RunStatusTerminated, env.getRun(run.ID).Status)
}

// TestStopReleasesInstance tests that terminating a running job returns
// its instance to the pool idle
func TestStopReleasesInstance(t *testing.T) {
	env := newTestEnv(t)

	instance := env.seedIdleInstance("worker-1", 0.10)
	run := env.submit(taskSpec("demo"))
	rows := env.getJobs(run.ID)

	err := env.store.Update(func(tx storage.Tx) error {
		stored, err := tx.GetInstance(instance.ID)
		if err != nil {
			return err
		}
		stored.Status = types.InstanceStatusBusy
		stored.JobID = rows[0].ID
		return tx.UpdateInstance(stored)
	})
	require.NoError(t, err)
	env.updateJob(rows[0].ID, func(job *types.Job) {
		job.Status = types.JobStatusRunning
		job.InstanceID = instance.ID
		job.ProvisioningData = runningData("10.1.0.1")
	})

	require.NoError(t, env.service.StopRuns(context.Background(), "p1", []string{"demo"}, false))

	err = env.store.View(func(tx storage.Tx) error {
		stored, err := tx.GetInstance(instance.ID)
		require.NoError(t, err)
		assert.Equal(t, types.InstanceStatusIdle, stored.Status)
		assert.Empty(t, stored.JobID)
		assert.False(t, stored.IdleSince.IsZero())
		return nil
	})
	require.NoError(t, err)
}

// TestStopRunsIgnoresUnknownAndFinished tests name resolution tolerance
func TestStopRunsIgnoresUnknownAndFinished(t *testing.T) {
	env := newTestEnv(t)

	run := env.submit(taskSpec("demo"))
	env.updateRun(run.ID, func(r *types.Run) {
		r.Status = types.RunStatusDone
	})

	require.NoError(t, env.service.StopRuns(context.Background(), "p1", []string{"demo", "ghost"}, false))
	assert.Equal(t, types.RunStatusDone, env.getRun(run.ID).Status)
}

// TestProcessTerminatingRunLeavesTerminatingJobs tests that jobs owned by
// the terminating-jobs reconciler keep the run in TERMINATING until they
// finish
func TestProcessTerminatingRunLeavesTerminatingJobs(t *testing.T) {
	env := newTestEnv(t)

	run := env.submit(taskSpec("demo"))
	rows := env.getJobs(run.ID)
	env.updateJob(rows[0].ID, func(job *types.Job) {
		job.Status = types.JobStatusTerminating
		job.TerminationReason = types.JobTerminationReasonDoneByRunner
	})
	env.updateRun(run.ID, func(r *types.Run) {
		r.Status = types.RunStatusTerminating
		r.TerminationReason = types.RunTerminationReasonAllJobsDone
	})

	run = env.getRun(run.ID)
	require.NoError(t, env.service.ProcessTerminatingRun(context.Background(), run))

	stored := env.getRun(run.ID)
	assert.Equal(t, types.RunStatusTerminating, stored.Status)
	job := env.getJobs(run.ID)[0]
	assert.Equal(t, types.JobStatusTerminating, job.Status)

	// Once the other pass finishes the job, the next pass finalizes.
	env.updateJob(job.ID, func(j *types.Job) {
		j.Status = types.JobStatusDone
		j.FinishedAt = time.Now()
	})
	run = env.getRun(run.ID)
	require.NoError(t, env.service.ProcessTerminatingRun(context.Background(), run))
	assert.Equal(t, types.RunStatusDone, env.getRun(run.ID).Status)
}

// TestStopRunsIsRepeatable tests that stopping an already stopped run is a
// no-op
func TestStopRunsIsRepeatable(t *testing.T) {
	env := newTestEnv(t)

	env.submit(taskSpec("demo"))
	require.NoError(t, env.service.StopRuns(context.Background(), "p1", []string{"demo"}, false))
	require.NoError(t, env.service.StopRuns(context.Background(), "p1", []string{"demo"}, false))

	run := env.getRunByName("demo")
	assert.Equal(t, types.RunStatusTerminated, run.Status)
	assert.Equal(t, types.RunTerminationReasonStoppedByUser, run.TerminationReason)
}
