package pools

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/windrose-sh/windrose/pkg/locker"
	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// Manager owns the named instance pools of each project.
type Manager struct {
	store  storage.Store
	logger zerolog.Logger

	// projectMu serializes pool creation and default changes per project,
	// keeping exactly one default pool and no duplicate names.
	projectMu *locker.KeyedMutex
}

// NewManager creates a pool manager over the store.
func NewManager(store storage.Store) *Manager {
	return &Manager{
		store:     store,
		logger:    log.WithComponent("pools"),
		projectMu: locker.NewKeyedMutex(),
	}
}

// GetOrCreatePool resolves the named pool, creating it if missing. An
// empty name resolves to the project's default pool, which is created as
// "default-pool" on first reference. Concurrent callers for the same
// project observe one pool.
func (m *Manager) GetOrCreatePool(projectID, name string) (*types.Pool, error) {
	unlock := m.projectMu.Lock(projectID)
	defer unlock()

	if name == "" {
		return m.getOrCreateDefault(projectID)
	}

	var pool *types.Pool
	err := m.store.Update(func(tx storage.Tx) error {
		existing, err := tx.GetPoolByName(projectID, name)
		if err == nil {
			pool = existing
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		pool = m.newPool(projectID, name)
		return tx.CreatePool(pool)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pool %s: %w", name, err)
	}
	return pool, nil
}

func (m *Manager) getOrCreateDefault(projectID string) (*types.Pool, error) {
	var pool *types.Pool
	err := m.store.Update(func(tx storage.Tx) error {
		project, err := tx.GetProject(projectID)
		if err != nil {
			return err
		}

		if project.DefaultPoolID != "" {
			existing, err := tx.GetPool(project.DefaultPoolID)
			if err == nil && !existing.Deleted {
				pool = existing
				return nil
			}
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			// Default pool row is gone or deleted; fall through and
			// create a fresh one.
		}

		pool = m.newPool(projectID, types.DefaultPoolName)
		if err := tx.CreatePool(pool); err != nil {
			return err
		}

		project.DefaultPoolID = pool.ID
		return tx.UpdateProject(project)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default pool: %w", err)
	}
	return pool, nil
}

func (m *Manager) newPool(projectID, name string) *types.Pool {
	pool := &types.Pool{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		CreatedAt: time.Now(),
	}

	m.logger.Info().
		Str("project_id", projectID).
		Str("pool", name).
		Msg("creating pool")
	return pool
}

// SetDefault makes the named pool the project default.
func (m *Manager) SetDefault(projectID, name string) error {
	unlock := m.projectMu.Lock(projectID)
	defer unlock()

	return m.store.Update(func(tx storage.Tx) error {
		pool, err := m.getPool(tx, projectID, name)
		if err != nil {
			return err
		}

		project, err := tx.GetProject(projectID)
		if err != nil {
			return err
		}

		project.DefaultPoolID = pool.ID
		return tx.UpdateProject(project)
	})
}

// Delete soft-deletes the named pool. A pool with instances that are not
// yet terminated is refused unless force is set; with force, its instances
// are marked TERMINATING and the reconciler tears them down.
func (m *Manager) Delete(projectID, name string, force bool) error {
	unlock := m.projectMu.Lock(projectID)
	defer unlock()

	return m.store.Update(func(tx storage.Tx) error {
		pool, err := m.getPool(tx, projectID, name)
		if err != nil {
			return err
		}

		instances, err := tx.ListInstancesByPool(pool.ID)
		if err != nil {
			return err
		}

		var active []*types.Instance
		for _, instance := range instances {
			if !instance.Status.IsFinished() {
				active = append(active, instance)
			}
		}

		if len(active) > 0 && !force {
			return types.NewClientError("pool %s has %d active instances, stop them first or use force", name, len(active))
		}

		for _, instance := range active {
			if instance.Status == types.InstanceStatusTerminating {
				continue
			}
			instance.Status = types.InstanceStatusTerminating
			if err := tx.UpdateInstance(instance); err != nil {
				return err
			}
		}

		project, err := tx.GetProject(projectID)
		if err != nil {
			return err
		}
		if project.DefaultPoolID == pool.ID {
			project.DefaultPoolID = ""
			if err := tx.UpdateProject(project); err != nil {
				return err
			}
		}

		pool.Deleted = true
		return tx.UpdatePool(pool)
	})
}

// List returns the project's pools with their instance counts, default
// pool first.
func (m *Manager) List(projectID string) ([]*types.PoolSummary, error) {
	var summaries []*types.PoolSummary
	err := m.store.View(func(tx storage.Tx) error {
		project, err := tx.GetProject(projectID)
		if err != nil {
			return err
		}
		all, err := tx.ListPoolsByProject(projectID)
		if err != nil {
			return err
		}
		for _, pool := range all {
			if pool.Deleted {
				continue
			}
			instances, err := tx.ListInstancesByPool(pool.ID)
			if err != nil {
				return err
			}
			summary := &types.PoolSummary{
				Pool:    pool,
				Default: pool.ID == project.DefaultPoolID,
			}
			for _, instance := range instances {
				if instance.Status.IsFinished() {
					continue
				}
				summary.Total++
				if instance.Status.IsAvailable() {
					summary.Available++
				}
			}
			summaries = append(summaries, summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Default != summaries[j].Default {
			return summaries[i].Default
		}
		return summaries[i].Pool.Name < summaries[j].Pool.Name
	})
	return summaries, nil
}

// Show returns the named pool and its instances. Each instance carries
// the id of the job placed on it, if any.
func (m *Manager) Show(projectID, name string) (*types.Pool, []*types.Instance, error) {
	var pool *types.Pool
	var instances []*types.Instance

	err := m.store.View(func(tx storage.Tx) error {
		var err error
		pool, err = m.getPool(tx, projectID, name)
		if err != nil {
			return err
		}
		instances, err = tx.ListInstancesByPool(pool.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return pool, instances, nil
}

// Remove tears one instance out of a pool. A busy instance is refused
// unless force is set. The instance is marked TERMINATING; the reconciler
// performs the backend call.
func (m *Manager) Remove(projectID, poolName, instanceName string, force bool) error {
	return m.store.Update(func(tx storage.Tx) error {
		pool, err := m.getPool(tx, projectID, poolName)
		if err != nil {
			return err
		}

		instances, err := tx.ListInstancesByPool(pool.ID)
		if err != nil {
			return err
		}

		for _, instance := range instances {
			if instance.Name != instanceName {
				continue
			}
			if instance.Status.IsFinished() || instance.Status == types.InstanceStatusTerminating {
				return nil
			}
			if (instance.Status == types.InstanceStatusBusy || instance.JobID != "") && !force {
				return types.NewClientError("instance %s is busy, stop its job first or use force", instanceName)
			}

			instance.Status = types.InstanceStatusTerminating
			return tx.UpdateInstance(instance)
		}

		return types.NewClientError("instance %s not found in pool %s", instanceName, poolName)
	})
}

// AddRemote registers an existing SSH-reachable machine as a pool
// instance. The row starts PENDING; provisioning of the host is picked up
// from there.
func (m *Manager) AddRemote(projectID, poolName, instanceName, host string, port int, user string, region string) (*types.Instance, error) {
	pool, err := m.GetOrCreatePool(projectID, poolName)
	if err != nil {
		return nil, err
	}

	if instanceName == "" {
		return nil, types.NewClientError("instance name is required")
	}
	if host == "" {
		return nil, types.NewClientError("host is required")
	}
	if port == 0 {
		port = 22
	}

	instance := &types.Instance{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		PoolID:    pool.ID,
		Name:      instanceName,
		Backend:   types.BackendTypeRemote,
		Region:    region,
		Status:    types.InstanceStatusPending,
		ProvisioningData: &types.ProvisioningData{
			Backend:  types.BackendTypeRemote,
			Hostname: host,
			SSHPort:  port,
			Username: user,
			Region:   region,
		},
		TerminationPolicy: types.TerminationPolicyDontDestroy,
		CreatedAt:         time.Now(),
	}

	err = m.store.Update(func(tx storage.Tx) error {
		existing, err := tx.ListInstancesByPool(pool.ID)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.Name == instanceName && !other.Status.IsFinished() {
				return types.NewClientError("instance %s already exists in pool %s", instanceName, poolName)
			}
		}
		return tx.CreateInstance(instance)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("project_id", projectID).
		Str("pool", pool.Name).
		Str("instance", instanceName).
		Str("host", host).
		Msg("registered remote instance")
	return instance, nil
}

// getPool resolves a pool by name inside a transaction, mapping a missing
// or deleted pool to a ClientError.
func (m *Manager) getPool(tx storage.Tx, projectID, name string) (*types.Pool, error) {
	if name == "" {
		project, err := tx.GetProject(projectID)
		if err != nil {
			return nil, err
		}
		if project.DefaultPoolID == "" {
			return nil, types.NewClientError("project has no default pool")
		}
		pool, err := tx.GetPool(project.DefaultPoolID)
		if err != nil {
			return nil, err
		}
		return pool, nil
	}

	pool, err := tx.GetPoolByName(projectID, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.NewClientError("pool %s not found", name)
	}
	if err != nil {
		return nil, err
	}
	return pool, nil
}
