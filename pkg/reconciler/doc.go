/*
Package reconciler drives Windrose's runs, jobs and instances toward their
next state.

Nothing in the system advances on its own: user-facing operations only
record intent (a run submitted, a stop requested), and the reconciler turns
intent into progress, one pass at a time. Each cycle executes five passes
in a fixed order:

	┌────────────────── RECONCILE CYCLE ──────────────────┐
	│                                                      │
	│  1. submitted_jobs    place jobs on instances        │
	│  2. running_jobs      poll runner agents             │
	│  3. terminating_jobs  release instances, finalize    │
	│  4. runs              aggregate job → run status     │
	│  5. instances         teardown, idle reaping,        │
	│                       pool adoption                  │
	└──────────────────────────────────────────────────────┘

The order is deliberate: a job the polling pass moves to TERMINATING is
finalized by pass 3 of the same cycle, and pass 4 then aggregates the
final row, so a normal exit settles in one tick instead of three.

# Placement

A SUBMITTED job first looks for an idle pool instance whose offer fits its
requirements; the cheapest one wins and is claimed inside a single write
transaction. When nothing fits, the profile's creation policy decides
whether a fresh instance may be provisioned. Capacity misses do not fail
the job immediately: it stays SUBMITTED while its retry window is open and
only fails once the window closes.

# Locking

Every job is processed under the phase lock matching its pass, claimed
with TryAcquire so a contended job is skipped rather than waited on. Run
processing has precedence: after claiming a job, the reconciler checks
whether the job's run id is held in the run phase and backs off if so,
which is what lets a run terminator rewrite job rows without racing the
job passes. Runs themselves are try-locked in the run phase and skipped
when a stop call owns them.

# Failure Handling

A failing item never aborts its pass, and a failing pass never aborts the
cycle: errors are counted, logged and retried on the next tick. The only
state transitions taken on an error path are deadline expiries: a runner
that never answers its health checks within the provisioning timeout
fails the job (or tears down the instance, when no job is attached).

Jobs that die before reaching RUNNING finalize in a single transaction,
preserving the status they died in; the instance release logic uses that
status to distinguish a broken machine from one that merely finished its
work. Jobs that exited from RUNNING take the two-step path through
TERMINATING so gateway replicas are dropped before the final status is
written.
*/
package reconciler
