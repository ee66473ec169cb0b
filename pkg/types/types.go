package types

import (
	"time"
)

// Defaults applied when a profile or pool leaves the knob unset.
const (
	DefaultPoolName            = "default-pool"
	DefaultRunIdleDuration     = 5 * time.Minute
	DefaultPoolIdleDuration    = 72 * time.Hour
	DefaultRetryDuration       = time.Hour
	DefaultProvisioningTimeout = 10 * time.Minute
)

// Project scopes runs, repos, pools and instances. Every project owns an
// SSH keypair injected into instances it provisions.
type Project struct {
	ID            string
	Name          string
	SSHPublicKey  string
	SSHPrivateKey string
	DefaultPoolID string
	CreatedAt     time.Time
}

// User identifies the submitter of a run.
type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Repo is a code location a run executes against.
type Repo struct {
	ID        string
	ProjectID string
	Name      string
	Type      RepoType
	CreatedAt time.Time
}

// RepoType defines where repo contents come from.
type RepoType string

const (
	RepoTypeLocal  RepoType = "local"
	RepoTypeRemote RepoType = "remote"
)

// Pool groups instances inside a project.
type Pool struct {
	ID        string
	ProjectID string
	Name      string
	CreatedAt time.Time
	Deleted   bool
}

// Instance is a provisioned (or provisioning) machine in a pool.
type Instance struct {
	ID                  string
	ProjectID           string
	PoolID              string
	Name                string
	Backend             BackendType
	Region              string
	Price               float64
	Status              InstanceStatus
	JobID               string // job currently placed on the instance, if any
	Offer               *Offer
	Configuration       *InstanceConfiguration
	ProvisioningData    *ProvisioningData
	TerminationPolicy   TerminationPolicy
	TerminationIdleTime time.Duration
	CreatedAt           time.Time
	StartedAt           time.Time
	FinishedAt          time.Time
	IdleSince           time.Time
}

// InstanceStatus represents the lifecycle state of an instance.
type InstanceStatus string

const (
	InstanceStatusPending      InstanceStatus = "pending"
	InstanceStatusProvisioning InstanceStatus = "provisioning"
	InstanceStatusIdle         InstanceStatus = "idle"
	InstanceStatusBusy         InstanceStatus = "busy"
	InstanceStatusTerminating  InstanceStatus = "terminating"
	InstanceStatusTerminated   InstanceStatus = "terminated"
	InstanceStatusFailed       InstanceStatus = "failed"
)

// IsAvailable reports whether the instance can accept a job.
func (s InstanceStatus) IsAvailable() bool {
	return s == InstanceStatusIdle
}

// IsFinished reports whether the instance reached its terminal state.
func (s InstanceStatus) IsFinished() bool {
	return s == InstanceStatusTerminated || s == InstanceStatusFailed
}

// Run is the root orchestration entity. A run owns one job per (replica,
// job_num) pair, each of which may have several submissions.
type Run struct {
	ID                string
	ProjectID         string
	UserID            string
	RepoID            string
	Name              string
	Spec              RunSpec
	Status            RunStatus
	TerminationReason RunTerminationReason
	GatewayDomain     string // set for services registered with a gateway
	SubmittedAt       time.Time
	LastProcessedAt   time.Time
	Deleted           bool
}

// RunStatus represents the aggregate state of a run.
type RunStatus string

const (
	RunStatusSubmitted    RunStatus = "submitted"
	RunStatusProvisioning RunStatus = "provisioning"
	RunStatusRunning      RunStatus = "running"
	RunStatusTerminating  RunStatus = "terminating"
	RunStatusTerminated   RunStatus = "terminated"
	RunStatusFailed       RunStatus = "failed"
	RunStatusDone         RunStatus = "done"
)

// IsFinished reports whether the run reached a terminal state.
func (s RunStatus) IsFinished() bool {
	switch s {
	case RunStatusTerminated, RunStatusFailed, RunStatusDone:
		return true
	}
	return false
}

// RunTerminationReason records why a run entered TERMINATING.
type RunTerminationReason string

const (
	RunTerminationReasonAllJobsDone        RunTerminationReason = "all_jobs_done"
	RunTerminationReasonJobFailed          RunTerminationReason = "job_failed"
	RunTerminationReasonRetryLimitExceeded RunTerminationReason = "retry_limit_exceeded"
	RunTerminationReasonStoppedByUser      RunTerminationReason = "stopped_by_user"
	RunTerminationReasonAbortedByUser      RunTerminationReason = "aborted_by_user"
	RunTerminationReasonServerError        RunTerminationReason = "server_error"
)

// ToRunStatus maps the termination reason to the run's final status.
func (r RunTerminationReason) ToRunStatus() RunStatus {
	switch r {
	case RunTerminationReasonAllJobsDone:
		return RunStatusDone
	case RunTerminationReasonJobFailed, RunTerminationReasonRetryLimitExceeded, RunTerminationReasonServerError:
		return RunStatusFailed
	case RunTerminationReasonStoppedByUser, RunTerminationReasonAbortedByUser:
		return RunStatusTerminated
	}
	return RunStatusFailed
}

// ToJobTerminationReason maps the run-level reason to the reason applied to
// jobs that are still active when the run terminates.
func (r RunTerminationReason) ToJobTerminationReason() JobTerminationReason {
	switch r {
	case RunTerminationReasonAllJobsDone:
		return JobTerminationReasonDoneByRunner
	case RunTerminationReasonStoppedByUser:
		return JobTerminationReasonTerminatedByUser
	case RunTerminationReasonAbortedByUser:
		return JobTerminationReasonAbortedByUser
	}
	return JobTerminationReasonTerminatedByServer
}

// Job is a single schedulable unit of a run. The row for (replica_num,
// job_num) is superseded by a new row on each retry; SubmissionNum counts
// these rows from zero.
type Job struct {
	ID                 string
	RunID              string
	ProjectID          string
	RunName            string
	Name               string
	ReplicaNum         int
	JobNum             int
	SubmissionNum      int
	Spec               JobSpec
	Status             JobStatus
	TerminationReason  JobTerminationReason
	TerminationMessage string
	InstanceID         string
	ProvisioningData   *ProvisioningData
	SubmittedAt        time.Time
	PlacedAt           time.Time // set when the job is attached to an instance
	LastProcessedAt    time.Time
	FinishedAt         time.Time
}

// JobStatus represents the lifecycle state of a job submission.
type JobStatus string

const (
	JobStatusSubmitted    JobStatus = "submitted"
	JobStatusProvisioning JobStatus = "provisioning"
	JobStatusPulling      JobStatus = "pulling"
	JobStatusRunning      JobStatus = "running"
	JobStatusTerminating  JobStatus = "terminating"
	JobStatusTerminated   JobStatus = "terminated"
	JobStatusAborted      JobStatus = "aborted"
	JobStatusFailed       JobStatus = "failed"
	JobStatusDone         JobStatus = "done"
)

// IsFinished reports whether the job reached a terminal state.
func (s JobStatus) IsFinished() bool {
	switch s {
	case JobStatusTerminated, JobStatusAborted, JobStatusFailed, JobStatusDone:
		return true
	}
	return false
}

// IsActive reports whether the job still occupies an instance.
func (s JobStatus) IsActive() bool {
	return !s.IsFinished()
}

// JobTerminationReason records why a job entered TERMINATING.
type JobTerminationReason string

const (
	JobTerminationReasonDoneByRunner             JobTerminationReason = "done_by_runner"
	JobTerminationReasonAbortedByUser            JobTerminationReason = "aborted_by_user"
	JobTerminationReasonTerminatedByUser         JobTerminationReason = "terminated_by_user"
	JobTerminationReasonTerminatedByServer       JobTerminationReason = "terminated_by_server"
	JobTerminationReasonContainerExitedWithError JobTerminationReason = "container_exited_with_error"
	JobTerminationReasonFailedToStartNoCapacity  JobTerminationReason = "failed_to_start_due_to_no_capacity"
	JobTerminationReasonInterruptedByNoCapacity  JobTerminationReason = "interrupted_by_no_capacity"
	JobTerminationReasonWaitingRunnerLimit       JobTerminationReason = "waiting_runner_limit_exceeded"
)

// ToJobStatus maps the termination reason to the job's final status.
func (r JobTerminationReason) ToJobStatus() JobStatus {
	switch r {
	case JobTerminationReasonDoneByRunner:
		return JobStatusDone
	case JobTerminationReasonAbortedByUser:
		return JobStatusAborted
	case JobTerminationReasonTerminatedByUser, JobTerminationReasonTerminatedByServer:
		return JobStatusTerminated
	}
	return JobStatusFailed
}

// IsRetryable reports whether a new submission may replace a job that
// terminated for this reason, provided the run's retry policy allows it.
func (r JobTerminationReason) IsRetryable() bool {
	switch r {
	case JobTerminationReasonFailedToStartNoCapacity,
		JobTerminationReasonInterruptedByNoCapacity,
		JobTerminationReasonWaitingRunnerLimit,
		JobTerminationReasonContainerExitedWithError:
		return true
	}
	return false
}

// NeedsRunnerStop reports whether terminating a job in the given status for
// the given reason requires signalling the runner to stop gracefully.
// Aborts skip the signal, and a runner that already exited needs none.
func NeedsRunnerStop(status JobStatus, reason JobTerminationReason) bool {
	if status != JobStatusRunning {
		return false
	}
	return reason != JobTerminationReasonAbortedByUser && reason != JobTerminationReasonDoneByRunner
}
