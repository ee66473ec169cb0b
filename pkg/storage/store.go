package storage

import (
	"errors"

	"github.com/windrose-sh/windrose/pkg/types"
)

// ErrNotFound is wrapped by all lookup failures so callers can test for
// absence with errors.Is.
var ErrNotFound = errors.New("not found")

// Store defines the interface for orchestrator state storage.
//
// All access happens inside a transaction: View for reads, Update for
// writes. An Update commits when the function returns nil and rolls back
// otherwise, which is what makes multi-entity operations (a run plus its
// job rows, an instance plus the job placed on it) atomic.
type Store interface {
	View(fn func(tx Tx) error) error
	Update(fn func(tx Tx) error) error
	Close() error
}

// Tx exposes typed CRUD for every entity inside one transaction.
type Tx interface {
	// Projects
	CreateProject(project *types.Project) error
	GetProject(id string) (*types.Project, error)
	GetProjectByName(name string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)
	UpdateProject(project *types.Project) error

	// Users
	CreateUser(user *types.User) error
	GetUser(id string) (*types.User, error)
	GetUserByName(name string) (*types.User, error)
	ListUsers() ([]*types.User, error)

	// Repos
	CreateRepo(repo *types.Repo) error
	GetRepo(id string) (*types.Repo, error)
	ListReposByProject(projectID string) ([]*types.Repo, error)

	// Pools
	CreatePool(pool *types.Pool) error
	GetPool(id string) (*types.Pool, error)
	GetPoolByName(projectID, name string) (*types.Pool, error)
	ListPoolsByProject(projectID string) ([]*types.Pool, error)
	UpdatePool(pool *types.Pool) error

	// Instances
	CreateInstance(instance *types.Instance) error
	GetInstance(id string) (*types.Instance, error)
	ListInstancesByPool(poolID string) ([]*types.Instance, error)
	ListInstancesByProject(projectID string) ([]*types.Instance, error)
	UpdateInstance(instance *types.Instance) error

	// Runs
	CreateRun(run *types.Run) error
	GetRun(id string) (*types.Run, error)
	GetRunByName(projectID, name string) (*types.Run, error)
	ListRuns() ([]*types.Run, error)
	ListRunsByProject(projectID string) ([]*types.Run, error)
	UpdateRun(run *types.Run) error

	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	ListJobsByRun(runID string) ([]*types.Job, error)
	UpdateJob(job *types.Job) error
}
