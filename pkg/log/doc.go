/*
Package log provides structured logging for Windrose using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Usage

Initialize once at startup:

	log.Init(log.Config{
	    Level:      log.InfoLevel,
	    JSONOutput: true,
	})

Component loggers carry a fixed field through every event:

	logger := log.WithComponent("reconciler")
	logger.Info().Str("run_name", run.Name).Msg("run terminated")

Domain-scoped helpers exist for the common fields:

	log.WithRun(run.Name).Debug().Msg("retrying job")
	log.WithJob(job.ID).Warn().Err(err).Msg("runner unreachable")

# Output Formats

JSON format (production):

	{"level":"info","component":"reconciler","time":"2024-06-01T12:00:00Z","message":"run terminated"}

Console format (development) prints colorized single-line events.

# Conventions

Reconcile loops log per-item failures at error level and continue; backend
offer queries log failures at warn and exclude the backend from the result;
rows that fail to decode are logged at debug and skipped. Fatal is reserved
for unrecoverable startup errors.
*/
package log
