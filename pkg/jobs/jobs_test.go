package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-sh/windrose/pkg/types"
)

func taskSpec(runName string, nodes int) types.RunSpec {
	return types.RunSpec{
		RunName: runName,
		RepoID:  "repo1",
		Configuration: types.Configuration{
			Type:     types.ConfigurationTypeTask,
			Image:    "python:3.12-slim",
			Commands: []string{"python train.py"},
			Nodes:    nodes,
		},
	}
}

// TestFromRunSpecSingleNode tests materializing a plain task
func TestFromRunSpecSingleNode(t *testing.T) {
	specs, err := FromRunSpec(taskSpec("brave-otter-1", 0), 0)
	require.NoError(t, err)

	require.Len(t, specs, 1)
	assert.Equal(t, 0, specs[0].ReplicaNum)
	assert.Equal(t, 0, specs[0].JobNum)
	assert.Equal(t, 1, specs[0].JobsPerReplica)
	assert.Equal(t, "brave-otter-1-0-0", specs[0].Name)
	assert.Equal(t, "python:3.12-slim", specs[0].Image)
}

// TestFromRunSpecMultiNode tests the per-node fan-out of a task
func TestFromRunSpecMultiNode(t *testing.T) {
	specs, err := FromRunSpec(taskSpec("brave-otter-1", 3), 0)
	require.NoError(t, err)

	require.Len(t, specs, 3)
	for i, spec := range specs {
		assert.Equal(t, i, spec.JobNum)
		assert.Equal(t, 3, spec.JobsPerReplica)
	}
	assert.Equal(t, "brave-otter-1-2-0", specs[2].Name)
}

// TestFromRunSpecServiceReplica tests that a service replica is one job
func TestFromRunSpecServiceReplica(t *testing.T) {
	port := types.PortMapping{ContainerPort: 8000}
	spec := types.RunSpec{
		RunName: "web-1",
		Configuration: types.Configuration{
			Type: types.ConfigurationTypeService,
			Port: &port,
		},
	}

	specs, err := FromRunSpec(spec, 2)
	require.NoError(t, err)

	require.Len(t, specs, 1)
	assert.Equal(t, 2, specs[0].ReplicaNum)
	assert.Equal(t, "web-1-0-2", specs[0].Name)
}

// TestFromRunSpecDefaultImage tests image derivation from python version
func TestFromRunSpecDefaultImage(t *testing.T) {
	spec := taskSpec("quiet-lion-1", 0)
	spec.Configuration.Image = ""

	specs, err := FromRunSpec(spec, 0)
	require.NoError(t, err)
	assert.Equal(t, "windrose/base:py3.12", specs[0].Image)

	spec.Configuration.Python = "3.11"
	specs, err = FromRunSpec(spec, 0)
	require.NoError(t, err)
	assert.Equal(t, "windrose/base:py3.11", specs[0].Image)
}

// TestFromRunSpecRequirements tests the requirements derived from the
// configuration and profile
func TestFromRunSpecRequirements(t *testing.T) {
	maxPrice := 2.5
	spec := taskSpec("quiet-lion-1", 0)
	spec.Configuration.Resources = types.ResourcesSpec{
		CPU: types.Range[int]{Min: intPtr(8)},
	}
	spec.Profile = types.Profile{
		MaxPrice:   &maxPrice,
		SpotPolicy: types.SpotPolicySpot,
	}

	specs, err := FromRunSpec(spec, 0)
	require.NoError(t, err)

	req := specs[0].Requirements
	require.NotNil(t, req.MaxPrice)
	assert.Equal(t, 2.5, *req.MaxPrice)
	require.NotNil(t, req.Spot)
	assert.True(t, *req.Spot)
	require.NotNil(t, req.Resources.CPU.Min)
	assert.Equal(t, 8, *req.Resources.CPU.Min)
}

// TestFromRunSpecWorkingDir tests the configuration override
func TestFromRunSpecWorkingDir(t *testing.T) {
	spec := taskSpec("quiet-lion-1", 0)
	spec.WorkingDir = "/workflow"

	specs, err := FromRunSpec(spec, 0)
	require.NoError(t, err)
	assert.Equal(t, "/workflow", specs[0].WorkingDir)

	spec.Configuration.WorkingDir = "/src"
	specs, err = FromRunSpec(spec, 0)
	require.NoError(t, err)
	assert.Equal(t, "/src", specs[0].WorkingDir)
}

// TestFromRunSpecInvalidConfiguration tests validation pass-through
func TestFromRunSpecInvalidConfiguration(t *testing.T) {
	spec := taskSpec("quiet-lion-1", 0)
	spec.Configuration.Type = "cron"

	_, err := FromRunSpec(spec, 0)
	assert.Error(t, err)
}

// TestNewSubmissionNumbering tests that submission numbers stay contiguous
// from zero per (replica, job) slot
func TestNewSubmissionNumbering(t *testing.T) {
	run := &types.Run{ID: "r1", ProjectID: "p1", Name: "brave-otter-1"}
	specs, err := FromRunSpec(taskSpec("brave-otter-1", 2), 0)
	require.NoError(t, err)

	var existing []*types.Job
	first := NewSubmission(run, specs[0], existing)
	assert.Equal(t, 0, first.SubmissionNum)
	assert.Equal(t, types.JobStatusSubmitted, first.Status)
	assert.Equal(t, "brave-otter-1", first.RunName)
	existing = append(existing, first)

	// Slot (0,1) is independent of slot (0,0).
	sibling := NewSubmission(run, specs[1], existing)
	assert.Equal(t, 0, sibling.SubmissionNum)
	existing = append(existing, sibling)

	// Retries of slot (0,0) continue its sequence.
	retry := NewSubmission(run, specs[0], existing)
	assert.Equal(t, 1, retry.SubmissionNum)
	existing = append(existing, retry)

	again := NewSubmission(run, specs[0], existing)
	assert.Equal(t, 2, again.SubmissionNum)

	assert.NotEqual(t, first.ID, retry.ID, "each submission is a fresh row")
}

// TestLatest tests picking the newest submission per slot
func TestLatest(t *testing.T) {
	rows := []*types.Job{
		{ID: "a", ReplicaNum: 0, JobNum: 0, SubmissionNum: 0},
		{ID: "b", ReplicaNum: 0, JobNum: 1, SubmissionNum: 0},
		{ID: "c", ReplicaNum: 0, JobNum: 0, SubmissionNum: 1},
		{ID: "d", ReplicaNum: 1, JobNum: 0, SubmissionNum: 0},
	}

	latest := Latest(rows)

	require.Len(t, latest, 3)
	assert.Equal(t, "c", latest[0].ID, "slot (0,0) resolves to its retry")
	assert.Equal(t, "b", latest[1].ID)
	assert.Equal(t, "d", latest[2].ID)
}

func intPtr(v int) *int { return &v }
