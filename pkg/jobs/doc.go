/*
Package jobs materializes run specs into job rows and finalizes them.

A run owns one logical job per (replica_num, job_num) pair. FromRunSpec
produces the frozen per-job specs for one replica: a task spanning N
nodes yields N cooperating jobs, everything else yields one. Each retry
of a logical job is a new row sharing (replica_num, job_num) with a
SubmissionNum one higher than the last; NewSubmission keeps that
sequence contiguous from zero, and Latest picks the row per slot that
the state machine currently drives.

The Terminator is the single place a job reaches a terminal status. It
maps the termination reason to the final status, stamps the row, and
releases the job's instance: back to IDLE for reuse when the machine is
healthy, or to TERMINATING when provisioning never completed and the
machine cannot be trusted. Termination is idempotent; finished jobs are
left untouched.
*/
package jobs
