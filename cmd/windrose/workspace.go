package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/windrose-sh/windrose/pkg/backend"
	"github.com/windrose-sh/windrose/pkg/config"
	"github.com/windrose-sh/windrose/pkg/events"
	"github.com/windrose-sh/windrose/pkg/gateway"
	"github.com/windrose-sh/windrose/pkg/locker"
	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/planner"
	"github.com/windrose-sh/windrose/pkg/pools"
	"github.com/windrose-sh/windrose/pkg/runs"
	"github.com/windrose-sh/windrose/pkg/security"
	"github.com/windrose-sh/windrose/pkg/storage"
	"github.com/windrose-sh/windrose/pkg/types"
)

// The CLI has no authentication; operations run as a fixed user against
// the project's local repo, both created on first use.
const (
	cliUser = "admin"
	cliRepo = "local"
)

// core bundles the orchestration services wired from one configuration.
// The server and the CLI commands build the same core; the server adds
// the reconcile loop and the metrics listener on top.
type core struct {
	locks    *locker.Service
	registry *backend.Registry
	planner  *planner.Planner
	pools    *pools.Manager
	gateway  runs.Gateway
	runs     *runs.Service
}

func buildCore(cfg *config.Config, store storage.Store, broker *events.Broker) (*core, error) {
	registry := backend.NewRegistry()
	for _, b := range cfg.Backends {
		impl, err := backend.NewFromFactory(b.Type, b.Settings)
		if err != nil {
			return nil, fmt.Errorf("failed to configure backend %s: %v", b.Type, err)
		}
		registry.Add(impl)
	}

	offerPlanner := planner.New(registry)
	offerPlanner.CallTimeout = cfg.Planner.CallTimeout.Std()

	poolManager := pools.NewManager(store)

	gw, err := buildGateway(cfg)
	if err != nil {
		return nil, err
	}

	locks := locker.New()
	runService := runs.New(runs.Config{
		Store:        store,
		Locks:        locks,
		Planner:      offerPlanner,
		Pools:        poolManager,
		Registry:     registry,
		Gateway:      gw,
		Events:       broker,
		RetryLimit:   cfg.Runs.RetryLimit.Std(),
		IdleDuration: cfg.Runs.IdleDuration.Std(),
	})

	return &core{
		locks:    locks,
		registry: registry,
		planner:  offerPlanner,
		pools:    poolManager,
		gateway:  gw,
		runs:     runService,
	}, nil
}

func buildGateway(cfg *config.Config) (runs.Gateway, error) {
	if !cfg.Gateway.Enabled {
		return nil, nil
	}

	var issuer gateway.CertIssuer
	switch cfg.Gateway.CertIssuer {
	case config.CertIssuerCertbot:
		issuer = gateway.NewCertbotIssuer()
	case config.CertIssuerACME:
		acme, err := gateway.NewACMEIssuer(gateway.ACMEConfig{
			DirectoryURL: cfg.Gateway.ACME.Directory,
			Email:        cfg.Gateway.ACME.Email,
			CertsDir:     cfg.Gateway.ACME.CertsDir,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure acme issuer: %v", err)
		}
		issuer = acme
	}

	var system gateway.System
	if cfg.Gateway.Sudo {
		system = &gateway.SudoSystem{Dir: cfg.Gateway.SitesDir}
	} else {
		system = &gateway.LocalSystem{Dir: cfg.Gateway.SitesDir}
	}

	return gateway.NewService(gateway.NewController(system, issuer), cfg.Gateway.Domain), nil
}

// workspace is the core opened in-process for one CLI command, resolved
// to a project. Bolt holds an exclusive file lock, so commands fail fast
// when another windrose process (usually the server) owns the database.
type workspace struct {
	cfg     *config.Config
	store   storage.Store
	pools   *pools.Manager
	runs    *runs.Service
	project *types.Project
	user    *types.User
	repo    *types.Repo
}

func openWorkspace(cmd *cobra.Command) (*workspace, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	// The command's output is its result; component logs stay quiet
	// unless something is wrong.
	log.Init(log.Config{Level: log.WarnLevel, Output: os.Stderr})

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store (is the server running?): %v", err)
	}

	c, err := buildCore(cfg, store, nil)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	projectName, _ := cmd.Flags().GetString("project")
	project, user, repo, err := ensureWorkspace(store, projectName)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &workspace{
		cfg:     cfg,
		store:   store,
		pools:   c.pools,
		runs:    c.runs,
		project: project,
		user:    user,
		repo:    repo,
	}, nil
}

func (w *workspace) Close() {
	_ = w.store.Close()
}

// ensureWorkspace resolves the project, CLI user and local repo rows,
// creating whatever is missing. A new project gets an ed25519 keypair;
// backends install its public half on every instance they launch.
func ensureWorkspace(store storage.Store, projectName string) (*types.Project, *types.User, *types.Repo, error) {
	if projectName == "" {
		projectName = "main"
	}

	var project *types.Project
	var user *types.User
	var repo *types.Repo

	err := store.Update(func(tx storage.Tx) error {
		existing, err := tx.GetProjectByName(projectName)
		switch {
		case err == nil:
			project = existing
		case errors.Is(err, storage.ErrNotFound):
			key, err := security.GenerateSSHKey("windrose-" + projectName)
			if err != nil {
				return err
			}
			project = &types.Project{
				ID:            uuid.New().String(),
				Name:          projectName,
				SSHPublicKey:  key.Public,
				SSHPrivateKey: key.Private,
				CreatedAt:     time.Now(),
			}
			if err := tx.CreateProject(project); err != nil {
				return err
			}
		default:
			return err
		}

		existingUser, err := tx.GetUserByName(cliUser)
		switch {
		case err == nil:
			user = existingUser
		case errors.Is(err, storage.ErrNotFound):
			user = &types.User{ID: uuid.New().String(), Name: cliUser, CreatedAt: time.Now()}
			if err := tx.CreateUser(user); err != nil {
				return err
			}
		default:
			return err
		}

		repos, err := tx.ListReposByProject(project.ID)
		if err != nil {
			return err
		}
		for _, r := range repos {
			if r.Name == cliRepo {
				repo = r
				return nil
			}
		}
		repo = &types.Repo{
			ID:        uuid.New().String(),
			ProjectID: project.ID,
			Name:      cliRepo,
			Type:      types.RepoTypeLocal,
			CreatedAt: time.Now(),
		}
		return tx.CreateRepo(repo)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return project, user, repo, nil
}
