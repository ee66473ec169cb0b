/*
Package locker coordinates run and job processing with in-process lock sets.

One lock set exists per processing phase: whole-run processing plus the
three job reconcile phases (submitted, running, terminating). The sets are
disjoint, and the run phase has precedence over the job phases:

  - A job reconciler first checks that the job's run id is not held in
    PhaseRun, then try-locks the job id in its own phase.
  - The run terminator locks the run id in PhaseRun, then uses WaitEmpty to
    let in-flight job processing drain before touching job rows. New job
    claims are kept out by the run-id check above.

TryAcquire over several ids is all-or-nothing, and Acquire is
cancellation-safe: a caller that gives up never leaves a partial claim
behind. Acquire and WaitEmpty poll at a fixed interval rather than queueing
waiters; reconcile cadence is measured in seconds, so fairness under
contention is not worth the bookkeeping.
*/
package locker
