package runs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/windrose-sh/windrose/pkg/backend"
	"github.com/windrose-sh/windrose/pkg/events"
	"github.com/windrose-sh/windrose/pkg/jobs"
	"github.com/windrose-sh/windrose/pkg/locker"
	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/planner"
	"github.com/windrose-sh/windrose/pkg/pools"
	"github.com/windrose-sh/windrose/pkg/runner"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// Gateway is the slice of the service gateway the orchestrator drives.
// A nil Gateway means the deployment has none; service runs are then
// rejected at submission.
type Gateway interface {
	Enabled() bool
	RegisterRun(ctx context.Context, project *types.Project, run *types.Run) (string, error)
	UnregisterRun(ctx context.Context, run *types.Run) error
	AddReplica(ctx context.Context, run *types.Run, job *types.Job) error
	RemoveReplica(ctx context.Context, run *types.Run, job *types.Job) error
}

// Config wires the orchestrator's collaborators. Store, Locks, Planner,
// Pools and Registry are required; the rest default to working stand-ins.
type Config struct {
	Store    storage.Store
	Locks    *locker.Service
	Planner  *planner.Planner
	Pools    *pools.Manager
	Registry *backend.Registry
	Gateway  Gateway
	Runners  runner.Factory
	Events   *events.Broker

	// RetryLimit bounds retries for jobs whose retry policy has no limit
	// of its own. Zero selects types.DefaultRetryDuration.
	RetryLimit time.Duration

	// IdleDuration is the termination idle time given to instances whose
	// profile does not set one. Zero selects types.DefaultRunIdleDuration.
	IdleDuration time.Duration
}

// Service orchestrates runs and jobs for every project.
type Service struct {
	store       storage.Store
	locks       *locker.Service
	planner     *planner.Planner
	pools       *pools.Manager
	registry    *backend.Registry
	gateway     Gateway
	runners     runner.Factory
	events      *events.Broker
	terminator  *jobs.Terminator
	retryLimit  time.Duration
	idleDefault time.Duration
	logger      zerolog.Logger

	// projectMu serializes submissions per project so that a generated
	// run name stays free until its row commits.
	projectMu *locker.KeyedMutex
}

// New creates the run orchestrator.
func New(cfg Config) *Service {
	runners := cfg.Runners
	if runners == nil {
		runners = runner.DefaultFactory
	}
	retryLimit := cfg.RetryLimit
	if retryLimit == 0 {
		retryLimit = types.DefaultRetryDuration
	}
	idleDefault := cfg.IdleDuration
	if idleDefault == 0 {
		idleDefault = types.DefaultRunIdleDuration
	}
	return &Service{
		store:       cfg.Store,
		locks:       cfg.Locks,
		planner:     cfg.Planner,
		pools:       cfg.Pools,
		registry:    cfg.Registry,
		gateway:     cfg.Gateway,
		runners:     runners,
		events:      cfg.Events,
		terminator:  jobs.NewTerminator(),
		retryLimit:  retryLimit,
		idleDefault: idleDefault,
		logger:      log.WithComponent("runs"),
		projectMu:   locker.NewKeyedMutex(),
	}
}

// Locks exposes the shared lock service for reconcilers that coordinate
// with run-level processing.
func (s *Service) Locks() *locker.Service {
	return s.locks
}

// List returns the project's runs with their job rows and accrued cost,
// newest first. Deleted runs are excluded.
func (s *Service) List(projectID string) ([]*types.RunSummary, error) {
	var summaries []*types.RunSummary
	err := s.store.View(func(tx storage.Tx) error {
		all, err := tx.ListRunsByProject(projectID)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, run := range all {
			if run.Deleted {
				continue
			}
			rows, err := tx.ListJobsByRun(run.ID)
			if err != nil {
				return err
			}
			summaries = append(summaries, newRunSummary(run, rows, now))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Run.SubmittedAt.After(summaries[j].Run.SubmittedAt)
	})
	return summaries, nil
}

// Get returns one run by name with its job rows and accrued cost.
func (s *Service) Get(projectID, name string) (*types.RunSummary, error) {
	var summary *types.RunSummary
	err := s.store.View(func(tx storage.Tx) error {
		run, err := tx.GetRunByName(projectID, name)
		if errors.Is(err, storage.ErrNotFound) {
			return types.NewClientError("Run %s does not exist", name)
		}
		if err != nil {
			return err
		}
		rows, err := tx.ListJobsByRun(run.ID)
		if err != nil {
			return err
		}
		summary = newRunSummary(run, rows, time.Now())
		return nil
	})
	return summary, err
}

// Delete soft-deletes finished runs, freeing their names for reuse. If any
// named run is still active the whole call fails and nothing is deleted.
func (s *Service) Delete(projectID string, names []string) error {
	return s.store.Update(func(tx storage.Tx) error {
		var finished []*types.Run
		var active []string
		for _, name := range names {
			run, err := tx.GetRunByName(projectID, name)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !run.Status.IsFinished() {
				active = append(active, run.Name)
				continue
			}
			finished = append(finished, run)
		}
		if len(active) > 0 {
			return types.NewClientError("Cannot delete active runs: %s", strings.Join(active, ", "))
		}
		for _, run := range finished {
			run.Deleted = true
			if err := tx.UpdateRun(run); err != nil {
				return err
			}
		}
		return nil
	})
}

func newRunSummary(run *types.Run, rows []*types.Job, now time.Time) *types.RunSummary {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.ReplicaNum != b.ReplicaNum {
			return a.ReplicaNum < b.ReplicaNum
		}
		if a.JobNum != b.JobNum {
			return a.JobNum < b.JobNum
		}
		return a.SubmissionNum < b.SubmissionNum
	})
	return &types.RunSummary{Run: run, Jobs: rows, Cost: types.RunCost(rows, now)}
}

func (s *Service) publish(event *events.Event) {
	if s.events != nil {
		s.events.Publish(event)
	}
}

func (s *Service) gatewayEnabled() bool {
	return s.gateway != nil && s.gateway.Enabled()
}

// touchRun persists LastProcessedAt so stalled runs are visible.
func (s *Service) touchRun(run *types.Run) error {
	run.LastProcessedAt = time.Now()
	return s.store.Update(func(tx storage.Tx) error {
		return tx.UpdateRun(run)
	})
}
