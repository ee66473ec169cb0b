package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/windrose-sh/windrose/pkg/types"
)

const (
	// defaultPythonVersion selects the interpreter baked into the stock
	// image when a configuration specifies neither image nor python.
	defaultPythonVersion = "3.12"

	defaultImageRepo = "windrose/base"
)

// DefaultImage returns the stock container image for a python version.
func DefaultImage(python string) string {
	if python == "" {
		python = defaultPythonVersion
	}
	return fmt.Sprintf("%s:py%s", defaultImageRepo, python)
}

// FromRunSpec materializes the job specs of one replica. A task
// configuration running on N nodes yields N cooperating jobs, numbered
// 0..N-1; services and dev environments yield a single job per replica.
// The returned specs are frozen copies: later edits to the run spec do not
// reach jobs already materialized.
func FromRunSpec(spec types.RunSpec, replicaNum int) ([]types.JobSpec, error) {
	cfg := spec.Configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	image := cfg.Image
	if image == "" {
		image = DefaultImage(cfg.Python)
	}

	workingDir := cfg.WorkingDir
	if workingDir == "" {
		workingDir = spec.WorkingDir
	}

	nodes := cfg.NodeCount()
	specs := make([]types.JobSpec, 0, nodes)
	for jobNum := 0; jobNum < nodes; jobNum++ {
		specs = append(specs, types.JobSpec{
			ReplicaNum:     replicaNum,
			JobNum:         jobNum,
			JobsPerReplica: nodes,
			Name:           fmt.Sprintf("%s-%d-%d", spec.RunName, jobNum, replicaNum),
			Image:          image,
			Commands:       cfg.Commands,
			Env:            cfg.Env,
			WorkingDir:     workingDir,
			MaxDuration:    spec.Profile.MaxDuration,
			Requirements: types.Requirements{
				Resources: cfg.Resources,
				MaxPrice:  spec.Profile.MaxPrice,
				Spot:      spec.Profile.SpotRequirement(),
			},
			RetryPolicy: spec.Profile.RetryPolicy,
		})
	}
	return specs, nil
}

// NewSubmission builds the next job row for the logical slot described by
// spec. existing is the run's current set of job rows; the new row
// continues the slot's submission sequence, which starts at zero and has
// no gaps.
func NewSubmission(run *types.Run, spec types.JobSpec, existing []*types.Job) *types.Job {
	now := time.Now()
	return &types.Job{
		ID:              uuid.New().String(),
		RunID:           run.ID,
		ProjectID:       run.ProjectID,
		RunName:         run.Name,
		Name:            spec.Name,
		ReplicaNum:      spec.ReplicaNum,
		JobNum:          spec.JobNum,
		SubmissionNum:   NextSubmissionNum(existing, spec.ReplicaNum, spec.JobNum),
		Spec:            spec,
		Status:          types.JobStatusSubmitted,
		SubmittedAt:     now,
		LastProcessedAt: now,
	}
}

// NextSubmissionNum returns the submission number for the next row of the
// (replica, job) slot: the count of rows the slot already has.
func NextSubmissionNum(existing []*types.Job, replicaNum, jobNum int) int {
	n := 0
	for _, job := range existing {
		if job.ReplicaNum == replicaNum && job.JobNum == jobNum {
			n++
		}
	}
	return n
}

// Latest returns the newest submission per (replica, job) slot, which is
// the set of rows the state machine currently drives.
func Latest(jobs []*types.Job) []*types.Job {
	type slot struct{ replica, job int }

	latest := make(map[slot]*types.Job)
	var order []slot
	for _, job := range jobs {
		s := slot{job.ReplicaNum, job.JobNum}
		current, seen := latest[s]
		if !seen {
			order = append(order, s)
		}
		if !seen || job.SubmissionNum > current.SubmissionNum {
			latest[s] = job
		}
	}

	out := make([]*types.Job, 0, len(order))
	for _, s := range order {
		out = append(out, latest[s])
	}
	return out
}
