package runs

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/windrose-sh/windrose/pkg/backend"
	"github.com/windrose-sh/windrose/pkg/locker"
	"github.com/windrose-sh/windrose/pkg/planner"
	"github.com/windrose-sh/windrose/pkg/pools"
	"github.com/windrose-sh/windrose/pkg/runner"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// fakeCompute scripts one backend's provisioning surface. createErrs are
// consumed one per CreateInstance call; a nil entry means success.
type fakeCompute struct {
	mu         sync.Mutex
	offers     []types.Offer
	offersErr  error
	createErrs []error
	created    []types.Offer
	terminated []string
}

func (c *fakeCompute) GetOffers(_ context.Context, _ types.Requirements) ([]types.Offer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offersErr != nil {
		return nil, c.offersErr
	}
	return append([]types.Offer(nil), c.offers...), nil
}

func (c *fakeCompute) CreateInstance(_ context.Context, offer types.Offer, _ types.InstanceConfiguration) (*types.LaunchedInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, offer)
	if len(c.createErrs) > 0 {
		err := c.createErrs[0]
		c.createErrs = c.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &types.LaunchedInstance{
		InstanceID: "i-" + offer.Instance.Name,
		Hostname:   "10.0.0.1",
		Region:     offer.Region,
		Username:   "ubuntu",
		SSHPort:    22,
		Runtime:    types.InstanceRuntimeShim,
	}, nil
}

func (c *fakeCompute) TerminateInstance(_ context.Context, _, instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = append(c.terminated, instanceID)
	return nil
}

func (c *fakeCompute) createdOffers() []types.Offer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Offer(nil), c.created...)
}

type fakeBackend struct {
	backendType types.BackendType
	compute     *fakeCompute
}

func (b *fakeBackend) Type() types.BackendType  { return b.backendType }
func (b *fakeBackend) Compute() backend.Compute { return b.compute }

// fakeGateway records registrations instead of touching nginx.
type fakeGateway struct {
	mu           sync.Mutex
	enabled      bool
	registerErr  error
	registered   map[string]string
	unregistered []string
	added        []string
	removed      []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{enabled: true, registered: map[string]string{}}
}

func (g *fakeGateway) Enabled() bool { return g.enabled }

func (g *fakeGateway) RegisterRun(_ context.Context, _ *types.Project, run *types.Run) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.registerErr != nil {
		return "", g.registerErr
	}
	domain := run.Name + ".apps.example.com"
	g.registered[run.Name] = domain
	return domain, nil
}

func (g *fakeGateway) UnregisterRun(_ context.Context, run *types.Run) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unregistered = append(g.unregistered, run.Name)
	delete(g.registered, run.Name)
	return nil
}

func (g *fakeGateway) AddReplica(_ context.Context, _ *types.Run, job *types.Job) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.added = append(g.added, job.ID)
	return nil
}

func (g *fakeGateway) RemoveReplica(_ context.Context, _ *types.Run, job *types.Job) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = append(g.removed, job.ID)
	return nil
}

// fakeAgent stands in for a runner over HTTP.
type fakeAgent struct {
	mu        sync.Mutex
	healthErr error
	submitErr error
	report    *runner.StateReport
	pullErr   error
	stops     []bool
}

func (a *fakeAgent) Healthcheck(_ context.Context) (*runner.HealthcheckResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.healthErr != nil {
		return nil, a.healthErr
	}
	return &runner.HealthcheckResponse{Version: "test"}, nil
}

func (a *fakeAgent) Submit(_ context.Context, _ *types.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submitErr
}

func (a *fakeAgent) Pull(_ context.Context) (*runner.StateReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pullErr != nil {
		return nil, a.pullErr
	}
	if a.report != nil {
		return a.report, nil
	}
	return &runner.StateReport{Status: types.JobStatusRunning}, nil
}

func (a *fakeAgent) Stop(_ context.Context, graceful bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops = append(a.stops, graceful)
	return nil
}

func (a *fakeAgent) stopCalls() []bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]bool(nil), a.stops...)
}

// agentMap hands out one fakeAgent per hostname so tests can inspect the
// agent a job was driven through.
type agentMap struct {
	mu     sync.Mutex
	agents map[string]*fakeAgent
}

func newAgentMap() *agentMap {
	return &agentMap{agents: map[string]*fakeAgent{}}
}

func (m *agentMap) factory(data *types.ProvisioningData) runner.Agent {
	return m.get(data.Hostname)
}

func (m *agentMap) get(hostname string) *fakeAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[hostname]
	if !ok {
		agent = &fakeAgent{}
		m.agents[hostname] = agent
	}
	return agent
}

type testEnv struct {
	t       *testing.T
	service *Service
	store   storage.Store
	locks   *locker.Service
	compute *fakeCompute
	gateway *fakeGateway
	agents  *agentMap
	project *types.Project
	user    *types.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	project := &types.Project{ID: "p1", Name: "main", SSHPublicKey: "ssh-ed25519 AAAA project"}
	user := &types.User{ID: "u1", Name: "alice"}
	err = store.Update(func(tx storage.Tx) error {
		if err := tx.CreateProject(project); err != nil {
			return err
		}
		if err := tx.CreateUser(user); err != nil {
			return err
		}
		return tx.CreateRepo(&types.Repo{ID: "r1", ProjectID: "p1", Name: "demo", Type: types.RepoTypeLocal})
	})
	require.NoError(t, err)

	compute := &fakeCompute{offers: []types.Offer{awsOffer("m5.large", 0.10)}}
	registry := backend.NewRegistry()
	registry.Add(&fakeBackend{backendType: types.BackendTypeAWS, compute: compute})

	gateway := newFakeGateway()
	agents := newAgentMap()
	locks := locker.New()

	service := New(Config{
		Store:    store,
		Locks:    locks,
		Planner:  planner.New(registry),
		Pools:    pools.NewManager(store),
		Registry: registry,
		Gateway:  gateway,
		Runners:  agents.factory,
	})

	return &testEnv{
		t:       t,
		service: service,
		store:   store,
		locks:   locks,
		compute: compute,
		gateway: gateway,
		agents:  agents,
		project: project,
		user:    user,
	}
}

// newServiceOver builds a second service over the same store with its own
// backend registry.
func newServiceOver(env *testEnv, registry *backend.Registry) *Service {
	return New(Config{
		Store:    env.store,
		Locks:    env.locks,
		Planner:  planner.New(registry),
		Pools:    pools.NewManager(env.store),
		Registry: registry,
		Gateway:  env.gateway,
		Runners:  env.agents.factory,
	})
}

func awsOffer(instanceType string, price float64) types.Offer {
	return types.Offer{
		Backend: types.BackendTypeAWS,
		Region:  "us-east-1",
		Instance: types.InstanceType{
			Name:      instanceType,
			Resources: types.Resources{CPUs: 4, MemoryMiB: 16384},
		},
		Price:        price,
		Availability: types.InstanceAvailabilityAvailable,
		Runtime:      types.InstanceRuntimeShim,
	}
}

func taskSpec(name string) types.RunSpec {
	return types.RunSpec{
		RunName: name,
		RepoID:  "r1",
		Configuration: types.Configuration{
			Type:     types.ConfigurationTypeTask,
			Commands: []string{"echo hello"},
		},
	}
}

func serviceSpec(name string, replicas int) types.RunSpec {
	return types.RunSpec{
		RunName: name,
		RepoID:  "r1",
		Configuration: types.Configuration{
			Type:     types.ConfigurationTypeService,
			Commands: []string{"python app.py"},
			Port:     &types.PortMapping{ContainerPort: 8000},
			Replicas: intRange(replicas),
		},
	}
}

func intRange(n int) types.Range[int] {
	return types.Range[int]{Min: &n, Max: &n}
}

func (e *testEnv) submit(spec types.RunSpec) *types.Run {
	e.t.Helper()
	run, err := e.service.Submit(context.Background(), e.user, e.project, spec)
	require.NoError(e.t, err)
	return run
}

func (e *testEnv) getRun(id string) *types.Run {
	e.t.Helper()
	var run *types.Run
	err := e.store.View(func(tx storage.Tx) error {
		var err error
		run, err = tx.GetRun(id)
		return err
	})
	require.NoError(e.t, err)
	return run
}

func (e *testEnv) getRunByName(name string) *types.Run {
	e.t.Helper()
	var run *types.Run
	err := e.store.View(func(tx storage.Tx) error {
		var err error
		run, err = tx.GetRunByName("p1", name)
		return err
	})
	require.NoError(e.t, err)
	return run
}

func (e *testEnv) getJobs(runID string) []*types.Job {
	e.t.Helper()
	var rows []*types.Job
	err := e.store.View(func(tx storage.Tx) error {
		var err error
		rows, err = tx.ListJobsByRun(runID)
		return err
	})
	require.NoError(e.t, err)
	return rows
}

func (e *testEnv) updateRun(id string, mutate func(*types.Run)) {
	e.t.Helper()
	err := e.store.Update(func(tx storage.Tx) error {
		run, err := tx.GetRun(id)
		if err != nil {
			return err
		}
		mutate(run)
		return tx.UpdateRun(run)
	})
	require.NoError(e.t, err)
}

func (e *testEnv) updateJob(id string, mutate func(*types.Job)) {
	e.t.Helper()
	err := e.store.Update(func(tx storage.Tx) error {
		job, err := tx.GetJob(id)
		if err != nil {
			return err
		}
		mutate(job)
		return tx.UpdateJob(job)
	})
	require.NoError(e.t, err)
}
