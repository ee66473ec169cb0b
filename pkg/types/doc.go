/*
Package types defines the core data structures used throughout Windrose.

This package contains all fundamental types that represent Windrose's domain
model: projects, users, repos, pools, instances, runs, jobs and the
specification types users submit. These types are used by all other packages
for state management, planning and orchestration logic.

# Core Types

Orchestration entities:
  - Run: Root entity; owns jobs grouped by replica
  - Job: Single schedulable unit; one row per submission attempt
  - JobSubmission: Per-attempt projection with duration and cost
  - Instance: Provisioned machine in a pool
  - Pool: Named group of instances inside a project

Specification types:
  - RunSpec: Full submission payload (configuration + profile)
  - Configuration: Task, service or dev environment definition
  - Profile: Offer selection and instance lifecycle tuning
  - Requirements: Offer filter derived at submission time
  - Offer: Priced instance type in a region with availability

# State Machines

Runs follow:

	SUBMITTED → PROVISIONING → RUNNING → TERMINATING → DONE | FAILED | TERMINATED

Jobs follow the same path with PULLING between PROVISIONING and RUNNING and
ABORTED as an extra terminal state. Terminal status is always derived from
the recorded termination reason, never set directly: see
RunTerminationReason.ToRunStatus and JobTerminationReason.ToJobStatus.

When a run terminates, jobs still active inherit a job-level reason via
RunTerminationReason.ToJobTerminationReason. NeedsRunnerStop decides whether
the termination must signal the runner for a graceful shutdown first.

# Enumeration Pattern

All enums use typed string constants:

	type RunStatus string
	const (
	    RunStatusSubmitted RunStatus = "submitted"
	    RunStatusRunning   RunStatus = "running"
	)

# YAML Forms

Specification types accept the shorthand forms users write:
  - Env: mapping or KEY=VALUE list
  - PortMapping: integer or "LOCAL:CONTAINER"
  - Range: scalar, "MIN..MAX" or {min, max}
  - Duration: seconds or "<n><unit>" with s/m/h/d/w units

Entities are persisted as JSON by pkg/storage using Go field names.
*/
package types
