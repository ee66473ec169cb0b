package types

import (
	"math"
	"time"
)

// JobSubmission is the per-attempt view of a job row. Each retry creates a
// fresh row, so a job's history is the ordered list of its submissions.
type JobSubmission struct {
	ID                 string
	JobNum             int
	ReplicaNum         int
	SubmissionNum      int
	Status             JobStatus
	TerminationReason  JobTerminationReason
	TerminationMessage string
	ProvisioningData   *ProvisioningData
	SubmittedAt        time.Time
	FinishedAt         time.Time
}

// SubmissionOf projects a job row into its submission view.
func SubmissionOf(job *Job) JobSubmission {
	return JobSubmission{
		ID:                 job.ID,
		JobNum:             job.JobNum,
		ReplicaNum:         job.ReplicaNum,
		SubmissionNum:      job.SubmissionNum,
		Status:             job.Status,
		TerminationReason:  job.TerminationReason,
		TerminationMessage: job.TerminationMessage,
		ProvisioningData:   job.ProvisioningData,
		SubmittedAt:        job.SubmittedAt,
		FinishedAt:         job.FinishedAt,
	}
}

// Duration is the billed interval: submission to finish, or to now for
// submissions still running.
func (s JobSubmission) Duration(now time.Time) time.Duration {
	end := s.FinishedAt
	if end.IsZero() {
		end = now
	}
	d := end.Sub(s.SubmittedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Cost is the submission's price times its billed hours. Submissions that
// never provisioned cost nothing.
func (s JobSubmission) Cost(now time.Time) float64 {
	if s.ProvisioningData == nil {
		return 0
	}
	return s.Duration(now).Hours() * s.ProvisioningData.Price
}

// RunCost sums the cost of every submission of a run, rounded to four
// decimal places.
func RunCost(jobs []*Job, now time.Time) float64 {
	var total float64
	for _, job := range jobs {
		total += SubmissionOf(job).Cost(now)
	}
	return math.Round(total*10000) / 10000
}

// RunSummary pairs a run with its job rows, ordered by (replica, job,
// submission), and the cost accrued so far.
type RunSummary struct {
	Run  *Run
	Jobs []*Job
	Cost float64
}

// PoolSummary describes one pool for listings: how many instances it has
// and how many of those could take a job right now.
type PoolSummary struct {
	Pool      *Pool
	Default   bool
	Total     int
	Available int
}
