package runs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-sh/windrose/pkg/backend"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// TestSubmitCreatesRunAndJobs tests that a task submission commits a
// SUBMITTED run with one frozen job row
func TestSubmitCreatesRunAndJobs(t *testing.T) {
	env := newTestEnv(t)

	run := env.submit(taskSpec("demo"))

	assert.Equal(t, types.RunStatusSubmitted, run.Status)
	assert.Equal(t, "demo", run.Name)
	assert.False(t, run.SubmittedAt.IsZero())

	rows := env.getJobs(run.ID)
	require.Len(t, rows, 1)
	job := rows[0]
	assert.Equal(t, types.JobStatusSubmitted, job.Status)
	assert.Equal(t, 0, job.SubmissionNum)
	assert.Equal(t, "demo-0-0", job.Name)
	assert.Equal(t, "windrose/base:py3.12", job.Spec.Image)
}

// TestSubmitMultiNodeTask tests that nodes > 1 fans out one job per node
func TestSubmitMultiNodeTask(t *testing.T) {
	env := newTestEnv(t)

	spec := taskSpec("cluster")
	spec.Configuration.Nodes = 3
	run := env.submit(spec)

	rows := env.getJobs(run.ID)
	require.Len(t, rows, 3)
	nums := map[int]bool{}
	for _, job := range rows {
		nums[job.JobNum] = true
		assert.Equal(t, 3, job.Spec.JobsPerReplica)
		assert.Equal(t, 0, job.ReplicaNum)
	}
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, nums)
}

// TestSubmitServiceRegistersGateway tests that a service claims its domain
// and materializes one job per replica
func TestSubmitServiceRegistersGateway(t *testing.T) {
	env := newTestEnv(t)

	run := env.submit(serviceSpec("web", 2))

	assert.Equal(t, "web.apps.example.com", run.GatewayDomain)
	assert.Equal(t, "web.apps.example.com", env.gateway.registered["web"])

	rows := env.getJobs(run.ID)
	require.Len(t, rows, 2)
	replicas := map[int]bool{}
	for _, job := range rows {
		replicas[job.ReplicaNum] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true}, replicas)
}

// TestSubmitServiceWithoutGateway tests that services are rejected when no
// gateway is configured
func TestSubmitServiceWithoutGateway(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.enabled = false

	_, err := env.service.Submit(context.Background(), env.user, env.project, serviceSpec("web", 1))
	require.Error(t, err)
	assert.True(t, types.IsClientError(err))
	assert.Contains(t, err.Error(), "gateway")
}

// TestSubmitGatewayFailureLeavesNothing tests that a failed domain
// registration aborts the submission without writing rows
func TestSubmitGatewayFailureLeavesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.registerErr = errors.New("certificate order failed")

	_, err := env.service.Submit(context.Background(), env.user, env.project, serviceSpec("web", 1))
	require.Error(t, err)

	err = env.store.View(func(tx storage.Tx) error {
		_, err := tx.GetRunByName("p1", "web")
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestSubmitNoBackends tests the guard against an unconfigured server
func TestSubmitNoBackends(t *testing.T) {
	env := newTestEnv(t)
	bare := newServiceOver(env, backend.NewRegistry())

	_, err := bare.Submit(context.Background(), env.user, env.project, taskSpec("demo"))
	require.Error(t, err)
	assert.True(t, types.IsClientError(err))
	assert.Equal(t, "No backends configured", err.Error())
}

// TestSubmitReplicaValidation tests the replica range rules for services
func TestSubmitReplicaValidation(t *testing.T) {
	env := newTestEnv(t)

	spec := serviceSpec("web", 0)
	_, err := env.service.Submit(context.Background(), env.user, env.project, spec)
	require.Error(t, err)
	assert.Equal(t, "Replicas count should be at least 1", err.Error())

	spec = serviceSpec("web", 1)
	three := 3
	spec.Configuration.Replicas.Max = &three
	_, err = env.service.Submit(context.Background(), env.user, env.project, spec)
	require.Error(t, err)
	assert.Equal(t, "Auto-scaling is not supported yet", err.Error())
}

// TestSubmitUnknownRepo tests that the repo must exist in the project
func TestSubmitUnknownRepo(t *testing.T) {
	env := newTestEnv(t)

	spec := taskSpec("demo")
	spec.RepoID = "nope"
	_, err := env.service.Submit(context.Background(), env.user, env.project, spec)
	require.Error(t, err)
	assert.True(t, types.IsClientError(err))
	assert.Contains(t, err.Error(), "Repo nope does not exist")
}

// TestSubmitInvalidName tests run name validation on explicit names
func TestSubmitInvalidName(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"Bad_Name", "1leading-digit", "x"} {
		spec := taskSpec(name)
		_, err := env.service.Submit(context.Background(), env.user, env.project, spec)
		require.Error(t, err, "name %q", name)
		assert.True(t, types.IsClientError(err))
	}
}

// TestSubmitActiveNameConflict tests that an active run keeps its name and
// a finished one is retired for reuse
func TestSubmitActiveNameConflict(t *testing.T) {
	env := newTestEnv(t)

	first := env.submit(taskSpec("demo"))

	_, err := env.service.Submit(context.Background(), env.user, env.project, taskSpec("demo"))
	require.Error(t, err)
	assert.True(t, types.IsClientError(err))
	assert.Contains(t, err.Error(), "already exists")

	env.updateRun(first.ID, func(run *types.Run) {
		run.Status = types.RunStatusDone
	})

	second := env.submit(taskSpec("demo"))
	assert.NotEqual(t, first.ID, second.ID)

	// The finished holder is soft-deleted, freeing the name.
	retired := env.getRun(first.ID)
	assert.True(t, retired.Deleted)
}

// TestSubmitGeneratesName tests that unnamed submissions get valid unique
// names
func TestSubmitGeneratesName(t *testing.T) {
	env := newTestEnv(t)

	spec := taskSpec("")
	first := env.submit(spec)
	second := env.submit(spec)

	require.NoError(t, types.ValidateRunName(first.Name))
	require.NoError(t, types.ValidateRunName(second.Name))
	assert.NotEqual(t, first.Name, second.Name)
}
