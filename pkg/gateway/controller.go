package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/metrics"
)

// Controller owns the proxy's site files. Every mutation serializes on one
// mutex and follows the same discipline: issue the certificate first, then
// write the rendered config and reload the proxy. When a reload fails the
// previous file is restored so the file on disk and the config the proxy
// serves never disagree, and the in-memory site map keeps its old entry.
type Controller struct {
	mu     sync.Mutex
	sites  map[string]SiteConfig // keyed by domain
	system System
	certs  CertIssuer
	logger zerolog.Logger
}

func NewController(system System, certs CertIssuer) *Controller {
	if certs == nil {
		certs = NoopIssuer{}
	}
	return &Controller{
		sites:  make(map[string]SiteConfig),
		system: system,
		certs:  certs,
		logger: log.WithComponent("gateway"),
	}
}

// RegisterService exposes a run service on its own domain. The domain must
// not be registered yet. The site starts with no upstream replicas; they
// are added as the service's jobs come up.
func (c *Controller) RegisterService(ctx context.Context, project, serviceID, domain string, auth bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sites[domain]; ok {
		return Errorf("domain %s is already registered", domain)
	}

	if err := c.certs.Issue(ctx, domain); err != nil {
		return err
	}

	site := &ServiceConfig{
		DomainName: domain,
		Project:    project,
		ServiceID:  serviceID,
		Auth:       auth,
		Servers:    make(map[string]string),
	}
	if err := c.apply(site); err != nil {
		return err
	}
	c.sites[domain] = site

	c.logger.Info().
		Str("domain", domain).
		Str("project", project).
		Msg("Registered service domain")
	return nil
}

// RegisterEntrypoint exposes a local HTTP server under its own domain,
// e.g. the gateway's management API.
func (c *Controller) RegisterEntrypoint(ctx context.Context, domain, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sites[domain]; ok {
		return Errorf("domain %s is already registered", domain)
	}

	if err := c.certs.Issue(ctx, domain); err != nil {
		return err
	}

	site := &EntrypointConfig{DomainName: domain, Prefix: prefix}
	if err := c.apply(site); err != nil {
		return err
	}
	c.sites[domain] = site

	c.logger.Info().Str("domain", domain).Str("prefix", prefix).Msg("Registered entrypoint domain")
	return nil
}

// UnregisterDomain removes a domain's site file and reloads the proxy.
func (c *Controller) UnregisterDomain(ctx context.Context, domain string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	site, ok := c.sites[domain]
	if !ok {
		return Errorf("domain %s is not registered", domain)
	}

	if err := c.system.Remove(site.FileName()); err != nil {
		return fmt.Errorf("failed to remove site config: %w", err)
	}
	if err := c.reload(); err != nil {
		return err
	}
	delete(c.sites, domain)

	c.logger.Info().Str("domain", domain).Msg("Unregistered domain")
	return nil
}

// AddUpstream adds a replica to a service domain's upstream set.
func (c *Controller) AddUpstream(ctx context.Context, domain, replicaID, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	site, err := c.serviceSite(domain)
	if err != nil {
		return err
	}

	updated := site.Clone().(*ServiceConfig)
	updated.Servers[replicaID] = address
	if err := c.apply(updated); err != nil {
		return err
	}
	c.sites[domain] = updated

	c.logger.Debug().
		Str("domain", domain).
		Str("replica", replicaID).
		Str("address", address).
		Msg("Added upstream")
	return nil
}

// RemoveUpstream removes a replica from a service domain's upstream set.
func (c *Controller) RemoveUpstream(ctx context.Context, domain, replicaID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	site, err := c.serviceSite(domain)
	if err != nil {
		return err
	}
	if _, ok := site.Servers[replicaID]; !ok {
		return Errorf("replica %s is not registered for domain %s", replicaID, domain)
	}

	updated := site.Clone().(*ServiceConfig)
	delete(updated.Servers, replicaID)
	if err := c.apply(updated); err != nil {
		return err
	}
	c.sites[domain] = updated

	c.logger.Debug().Str("domain", domain).Str("replica", replicaID).Msg("Removed upstream")
	return nil
}

// Domains returns the registered domains in sorted order.
func (c *Controller) Domains() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	domains := make([]string, 0, len(c.sites))
	for domain := range c.sites {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	return domains
}

// serviceSite resolves a domain to its service config. Callers hold mu.
func (c *Controller) serviceSite(domain string) (*ServiceConfig, error) {
	site, ok := c.sites[domain]
	if !ok {
		return nil, Errorf("domain %s is not registered", domain)
	}
	svc, ok := site.(*ServiceConfig)
	if !ok {
		return nil, Errorf("domain %s is not a service", domain)
	}
	return svc, nil
}

// apply renders and installs a site config, reloading the proxy. A failed
// reload rolls the file back to what was there before, byte for byte, so
// a later reload cannot pick up the rejected config. Callers hold mu.
func (c *Controller) apply(site SiteConfig) error {
	content, err := site.Render()
	if err != nil {
		return err
	}
	name := site.FileName()

	old, existed, err := c.system.ReadFile(name)
	if err != nil {
		return fmt.Errorf("failed to read current site config: %w", err)
	}

	if err := c.system.WriteFile(name, content); err != nil {
		return fmt.Errorf("failed to write site config: %w", err)
	}
	if err := c.reload(); err != nil {
		c.rollback(name, old, existed)
		return err
	}
	return nil
}

func (c *Controller) reload() error {
	if err := c.system.Reload(); err != nil {
		metrics.GatewayReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to reload proxy: %w", err)
	}
	metrics.GatewayReloads.WithLabelValues("ok").Inc()
	return nil
}

func (c *Controller) rollback(name, old string, existed bool) {
	var err error
	if existed {
		err = c.system.WriteFile(name, old)
	} else {
		err = c.system.Remove(name)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("file", name).Msg("Failed to roll back site config")
		return
	}
	c.logger.Warn().Str("file", name).Msg("Rolled back site config after failed reload")
}
