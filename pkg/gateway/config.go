package gateway

import (
	"fmt"
	"sort"
	"strings"
)

// SiteConfig is one domain's reverse-proxy configuration. The two
// implementations are ServiceConfig for run services and EntrypointConfig
// for path-prefix proxies; the set is closed.
type SiteConfig interface {
	// Domain is the server_name the site answers for, unique across the
	// gateway.
	Domain() string
	// FileName is the site's file inside the proxy's sites directory.
	FileName() string
	// Render produces the proxy configuration file contents.
	Render() (string, error)
	// Clone deep-copies the config so mutations never touch the version
	// the controller already applied.
	Clone() SiteConfig
}

// ServiceConfig proxies a domain to the replicas of one run service.
type ServiceConfig struct {
	DomainName string
	Project    string
	ServiceID  string
	Auth       bool
	// Servers maps replica id to upstream address.
	Servers map[string]string
}

func (c *ServiceConfig) Domain() string   { return c.DomainName }
func (c *ServiceConfig) FileName() string { return fileName(c.DomainName) }

func (c *ServiceConfig) Clone() SiteConfig {
	clone := *c
	clone.Servers = make(map[string]string, len(c.Servers))
	for id, server := range c.Servers {
		clone.Servers[id] = server
	}
	return &clone
}

func (c *ServiceConfig) Render() (string, error) {
	return renderSite(serviceTemplate, c.templateData())
}

// UpstreamName is the nginx upstream block identifier for the domain.
func (c *ServiceConfig) UpstreamName() string {
	return strings.ReplaceAll(c.DomainName, ".", "_")
}

type upstreamServer struct {
	ReplicaID string
	Address   string
}

type serviceTemplateData struct {
	Domain       string
	UpstreamName string
	Project      string
	ServiceID    string
	Auth         bool
	GatewayPort  int
	Servers      []upstreamServer
}

// templateData flattens the servers map into a deterministic slice so a
// config renders byte-identically however it was built.
func (c *ServiceConfig) templateData() serviceTemplateData {
	servers := make([]upstreamServer, 0, len(c.Servers))
	for id, address := range c.Servers {
		servers = append(servers, upstreamServer{ReplicaID: id, Address: address})
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].ReplicaID < servers[j].ReplicaID })

	return serviceTemplateData{
		Domain:       c.DomainName,
		UpstreamName: c.UpstreamName(),
		Project:      c.Project,
		ServiceID:    c.ServiceID,
		Auth:         c.Auth,
		GatewayPort:  defaultGatewayPort,
		Servers:      servers,
	}
}

// EntrypointConfig proxies a domain to a local server under a path prefix.
type EntrypointConfig struct {
	DomainName string
	Prefix     string
	Port       int // local server port, defaults to 8000 when zero
}

func (c *EntrypointConfig) Domain() string   { return c.DomainName }
func (c *EntrypointConfig) FileName() string { return fileName(c.DomainName) }

func (c *EntrypointConfig) Clone() SiteConfig {
	clone := *c
	return &clone
}

func (c *EntrypointConfig) Render() (string, error) {
	port := c.Port
	if port == 0 {
		port = defaultGatewayPort
	}
	return renderSite(entrypointTemplate, map[string]any{
		"Domain": c.DomainName,
		"Prefix": strings.TrimSuffix(c.Prefix, "/"),
		"Port":   port,
	})
}

// fileName returns the sites-directory file for a domain. The proxy only
// picks up files matching its include glob, hence the fixed 443- prefix.
func fileName(domain string) string {
	return fmt.Sprintf("443-%s.conf", domain)
}
