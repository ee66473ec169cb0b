// Package runs implements the run orchestration core: submission, offer
// planning, retry, and termination of runs and their jobs.
//
// A run is the root entity. Submission freezes the run spec into one job
// row per (replica, job) slot; from then on the reconciler drives each
// row through its lifecycle independently while ProcessRun aggregates the
// rows back into the run's status. Retries never mutate a job row: a new
// row with the next submission number supersedes the failed one.
//
// Mutating operations combine two locks. A per-project mutex serializes
// submissions so generated names stay unique, and the shared lock service
// serializes run-level processing against the per-job reconcilers: whoever
// holds a run in locker.PhaseRun may wait for the run's job ids to drain
// from the job phases and then owns every row of the run.
package runs
