package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/types"
)

var (
	// Bucket names
	bucketProjects  = []byte("projects")
	bucketUsers     = []byte("users")
	bucketRepos     = []byte("repos")
	bucketPools     = []byte("pools")
	bucketInstances = []byte("instances")
	bucketRuns      = []byte("runs")
	bucketJobs      = []byte("jobs")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store. Bolt holds an exclusive
// file lock, so a second opener (a CLI command beside a running server)
// fails after the timeout instead of blocking forever.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "windrose.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProjects,
			bucketUsers,
			bucketRepos,
			bucketPools,
			bucketInstances,
			bucketRuns,
			bucketJobs,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// View runs fn in a read-only transaction
func (s *BoltStore) View(fn func(tx Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

// Update runs fn in a writable transaction. The transaction commits when
// fn returns nil and rolls back on error, so partial writes never land.
func (s *BoltStore) Update(fn func(tx Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

// boltTx implements Tx on top of a bolt transaction
type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) put(bucket []byte, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucket).Put([]byte(id), data)
}

// Project operations

func (t *boltTx) CreateProject(project *types.Project) error {
	return t.put(bucketProjects, project.ID, project)
}

func (t *boltTx) GetProject(id string) (*types.Project, error) {
	data := t.tx.Bucket(bucketProjects).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	var project types.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (t *boltTx) GetProjectByName(name string) (*types.Project, error) {
	projects, err := t.ListProjects()
	if err != nil {
		return nil, err
	}
	for _, project := range projects {
		if project.Name == name {
			return project, nil
		}
	}
	return nil, fmt.Errorf("project %s: %w", name, ErrNotFound)
}

func (t *boltTx) ListProjects() ([]*types.Project, error) {
	var projects []*types.Project
	err := t.tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
		var project types.Project
		if err := json.Unmarshal(v, &project); err != nil {
			logSkippedRow("project", k, err)
			return nil
		}
		projects = append(projects, &project)
		return nil
	})
	return projects, err
}

func (t *boltTx) UpdateProject(project *types.Project) error {
	return t.CreateProject(project) // Same as create (upsert)
}

// User operations

func (t *boltTx) CreateUser(user *types.User) error {
	return t.put(bucketUsers, user.ID, user)
}

func (t *boltTx) GetUser(id string) (*types.User, error) {
	data := t.tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	var user types.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (t *boltTx) GetUserByName(name string) (*types.User, error) {
	users, err := t.ListUsers()
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		if user.Name == name {
			return user, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", name, ErrNotFound)
}

func (t *boltTx) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := t.tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
		var user types.User
		if err := json.Unmarshal(v, &user); err != nil {
			logSkippedRow("user", k, err)
			return nil
		}
		users = append(users, &user)
		return nil
	})
	return users, err
}

// Repo operations

func (t *boltTx) CreateRepo(repo *types.Repo) error {
	return t.put(bucketRepos, repo.ID, repo)
}

func (t *boltTx) GetRepo(id string) (*types.Repo, error) {
	data := t.tx.Bucket(bucketRepos).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("repo %s: %w", id, ErrNotFound)
	}
	var repo types.Repo
	if err := json.Unmarshal(data, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

func (t *boltTx) ListReposByProject(projectID string) ([]*types.Repo, error) {
	var repos []*types.Repo
	err := t.tx.Bucket(bucketRepos).ForEach(func(k, v []byte) error {
		var repo types.Repo
		if err := json.Unmarshal(v, &repo); err != nil {
			logSkippedRow("repo", k, err)
			return nil
		}
		if repo.ProjectID == projectID {
			repos = append(repos, &repo)
		}
		return nil
	})
	return repos, err
}

// Pool operations

func (t *boltTx) CreatePool(pool *types.Pool) error {
	return t.put(bucketPools, pool.ID, pool)
}

func (t *boltTx) GetPool(id string) (*types.Pool, error) {
	data := t.tx.Bucket(bucketPools).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	var pool types.Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

// GetPoolByName returns the project's non-deleted pool with the given name.
func (t *boltTx) GetPoolByName(projectID, name string) (*types.Pool, error) {
	pools, err := t.ListPoolsByProject(projectID)
	if err != nil {
		return nil, err
	}
	for _, pool := range pools {
		if pool.Name == name {
			return pool, nil
		}
	}
	return nil, fmt.Errorf("pool %s: %w", name, ErrNotFound)
}

// ListPoolsByProject returns the project's pools, excluding deleted ones.
func (t *boltTx) ListPoolsByProject(projectID string) ([]*types.Pool, error) {
	var pools []*types.Pool
	err := t.tx.Bucket(bucketPools).ForEach(func(k, v []byte) error {
		var pool types.Pool
		if err := json.Unmarshal(v, &pool); err != nil {
			logSkippedRow("pool", k, err)
			return nil
		}
		if pool.ProjectID == projectID && !pool.Deleted {
			pools = append(pools, &pool)
		}
		return nil
	})
	return pools, err
}

func (t *boltTx) UpdatePool(pool *types.Pool) error {
	return t.CreatePool(pool)
}

// Instance operations

func (t *boltTx) CreateInstance(instance *types.Instance) error {
	return t.put(bucketInstances, instance.ID, instance)
}

func (t *boltTx) GetInstance(id string) (*types.Instance, error) {
	data := t.tx.Bucket(bucketInstances).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	var instance types.Instance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

func (t *boltTx) ListInstancesByPool(poolID string) ([]*types.Instance, error) {
	var instances []*types.Instance
	err := t.tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
		var instance types.Instance
		if err := json.Unmarshal(v, &instance); err != nil {
			logSkippedRow("instance", k, err)
			return nil
		}
		if instance.PoolID == poolID {
			instances = append(instances, &instance)
		}
		return nil
	})
	return instances, err
}

func (t *boltTx) ListInstancesByProject(projectID string) ([]*types.Instance, error) {
	var instances []*types.Instance
	err := t.tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
		var instance types.Instance
		if err := json.Unmarshal(v, &instance); err != nil {
			logSkippedRow("instance", k, err)
			return nil
		}
		if instance.ProjectID == projectID {
			instances = append(instances, &instance)
		}
		return nil
	})
	return instances, err
}

func (t *boltTx) UpdateInstance(instance *types.Instance) error {
	return t.CreateInstance(instance)
}

// Run operations

func (t *boltTx) CreateRun(run *types.Run) error {
	return t.put(bucketRuns, run.ID, run)
}

func (t *boltTx) GetRun(id string) (*types.Run, error) {
	data := t.tx.Bucket(bucketRuns).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	var run types.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRunByName returns the project's non-deleted run with the given name.
// Deleted runs keep their rows but free up the name.
func (t *boltTx) GetRunByName(projectID, name string) (*types.Run, error) {
	var found *types.Run
	err := t.tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
		var run types.Run
		if err := json.Unmarshal(v, &run); err != nil {
			logSkippedRow("run", k, err)
			return nil
		}
		if run.ProjectID == projectID && run.Name == name && !run.Deleted {
			found = &run
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("run %s: %w", name, ErrNotFound)
	}
	return found, nil
}

func (t *boltTx) ListRuns() ([]*types.Run, error) {
	var runs []*types.Run
	err := t.tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
		var run types.Run
		if err := json.Unmarshal(v, &run); err != nil {
			logSkippedRow("run", k, err)
			return nil
		}
		runs = append(runs, &run)
		return nil
	})
	return runs, err
}

func (t *boltTx) ListRunsByProject(projectID string) ([]*types.Run, error) {
	runs, err := t.ListRuns()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Run
	for _, run := range runs {
		if run.ProjectID == projectID {
			filtered = append(filtered, run)
		}
	}
	return filtered, nil
}

func (t *boltTx) UpdateRun(run *types.Run) error {
	return t.CreateRun(run)
}

// Job operations

func (t *boltTx) CreateJob(job *types.Job) error {
	return t.put(bucketJobs, job.ID, job)
}

func (t *boltTx) GetJob(id string) (*types.Job, error) {
	data := t.tx.Bucket(bucketJobs).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (t *boltTx) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := t.tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
		var job types.Job
		if err := json.Unmarshal(v, &job); err != nil {
			logSkippedRow("job", k, err)
			return nil
		}
		jobs = append(jobs, &job)
		return nil
	})
	return jobs, err
}

func (t *boltTx) ListJobsByRun(runID string) ([]*types.Job, error) {
	jobs, err := t.ListJobs()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Job
	for _, job := range jobs {
		if job.RunID == runID {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

func (t *boltTx) UpdateJob(job *types.Job) error {
	return t.CreateJob(job)
}

// logSkippedRow records a row that no longer decodes. Listing tolerates
// schema drift instead of failing the whole query.
func logSkippedRow(entity string, key []byte, err error) {
	log.Logger.Debug().
		Str("entity", entity).
		Str("key", string(key)).
		Err(err).
		Msg("skipping undecodable row")
}
