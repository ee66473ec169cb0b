package runner

import (
	"github.com/windrose-sh/windrose/pkg/types"
)

// Wire types for the runner agent's HTTP API. The agent runs on every
// provisioned instance and owns container execution; the server only
// submits specs, polls state, and asks for stops.

// HealthcheckResponse reports an agent that is up and its build.
type HealthcheckResponse struct {
	Version string `json:"version"`
}

// SubmitRequest hands the frozen job spec to the agent.
type SubmitRequest struct {
	RunName       string            `json:"run_name"`
	JobName       string            `json:"job_name"`
	SubmissionNum int               `json:"submission_num"`
	Image         string            `json:"image"`
	Commands      []string          `json:"commands,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	WorkingDir    string            `json:"working_dir,omitempty"`
	MaxDurationS  int64             `json:"max_duration_s,omitempty"`
}

// PullResponse is the agent's current view of its job.
type PullResponse struct {
	State              string `json:"state"`
	ExitStatus         *int   `json:"exit_status,omitempty"`
	TerminationReason  string `json:"termination_reason,omitempty"`
	TerminationMessage string `json:"termination_message,omitempty"`
}

// StateReport is PullResponse translated to domain types.
type StateReport struct {
	Status             types.JobStatus
	ExitStatus         *int
	TerminationReason  types.JobTerminationReason
	TerminationMessage string
}

// stopRequest asks the agent to stop the job. Graceful leaves the
// container its termination grace period; otherwise it is killed.
type stopRequest struct {
	Graceful bool `json:"graceful"`
}

// newSubmitRequest flattens a job spec into the wire shape.
func newSubmitRequest(job *types.Job) SubmitRequest {
	return SubmitRequest{
		RunName:       job.RunName,
		JobName:       job.Name,
		SubmissionNum: job.SubmissionNum,
		Image:         job.Spec.Image,
		Commands:      job.Spec.Commands,
		Env:           job.Spec.Env,
		WorkingDir:    job.Spec.WorkingDir,
		MaxDurationS:  int64(job.Spec.MaxDuration.Std().Seconds()),
	}
}

// toStateReport maps the agent's state strings onto domain enums. Unknown
// states map to an empty status, which callers treat as "no news".
func (r PullResponse) toStateReport() StateReport {
	report := StateReport{
		ExitStatus:         r.ExitStatus,
		TerminationReason:  types.JobTerminationReason(r.TerminationReason),
		TerminationMessage: r.TerminationMessage,
	}
	switch r.State {
	case "pulling":
		report.Status = types.JobStatusPulling
	case "running":
		report.Status = types.JobStatusRunning
	case "done":
		report.Status = types.JobStatusDone
	case "failed":
		report.Status = types.JobStatusFailed
	}
	return report
}
