package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/planner"
	"github.com/windrose-sh/windrose/pkg/reconciler"
	"github.com/windrose-sh/windrose/pkg/types"
)

const (
	// DefaultDataDir is where the server keeps its bolt database.
	DefaultDataDir = "/var/lib/windrose"

	// DefaultMetricsAddr serves /metrics and the health endpoints.
	DefaultMetricsAddr = ":9090"

	// DefaultSitesDir is the nginx sites directory the gateway writes.
	DefaultSitesDir = "/etc/nginx/sites-enabled"
)

// Cert issuer selection for gateway domains.
const (
	CertIssuerNone    = "none"
	CertIssuerCertbot = "certbot"
	CertIssuerACME    = "acme"
)

// Config is the server configuration. Fields absent from the YAML file
// keep their defaults, so a config file only needs the overrides.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Planner    PlannerConfig    `yaml:"planner"`
	Runs       RunsConfig       `yaml:"runs"`
	Backends   []BackendConfig  `yaml:"backends"`
	Gateway    GatewayConfig    `yaml:"gateway"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level log.Level `yaml:"level"`
	JSON  bool      `yaml:"json"`
}

// MetricsConfig configures the metrics and health listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// ReconcilerConfig tunes the reconcile loop.
type ReconcilerConfig struct {
	// Interval between reconcile cycles.
	Interval types.Duration `yaml:"interval"`
	// ProvisioningTimeout is how long a placed job may wait for its
	// runner before it is failed.
	ProvisioningTimeout types.Duration `yaml:"provisioning_timeout"`
}

// PlannerConfig tunes offer queries.
type PlannerConfig struct {
	// CallTimeout bounds each backend GetOffers call.
	CallTimeout types.Duration `yaml:"call_timeout"`
}

// RunsConfig tunes run orchestration.
type RunsConfig struct {
	// RetryLimit bounds retries for jobs whose retry policy has no limit
	// of its own.
	RetryLimit types.Duration `yaml:"retry_limit"`
	// IdleDuration is the termination idle time for instances whose
	// profile does not set one.
	IdleDuration types.Duration `yaml:"idle_duration"`
}

// BackendConfig names one cloud backend and its provider settings. The
// settings map is passed verbatim to the backend factory registered for
// the type.
type BackendConfig struct {
	Type     types.BackendType `yaml:"type"`
	Settings map[string]string `yaml:"settings"`
}

// GatewayConfig configures the service gateway. Disabled by default;
// submitting a service run without a gateway is rejected.
type GatewayConfig struct {
	Enabled bool `yaml:"enabled"`
	// Domain is the wildcard under which runs are published, e.g.
	// apps.example.com serves run web at web.apps.example.com.
	Domain   string `yaml:"domain"`
	SitesDir string `yaml:"sites_dir"`
	// Sudo writes site files with sudo and reloads nginx via systemctl,
	// for hosts where the sites directory is owned by root. Without it
	// the server writes directly and never reloads the proxy.
	Sudo       bool       `yaml:"sudo"`
	CertIssuer string     `yaml:"cert_issuer"`
	ACME       ACMEConfig `yaml:"acme"`
}

// ACMEConfig configures the acme cert issuer.
type ACMEConfig struct {
	// Directory is the ACME directory URL. Empty selects Let's Encrypt
	// production.
	Directory string `yaml:"directory"`
	Email     string `yaml:"email"`
	// CertsDir is where issued certificates are installed. Empty selects
	// the certbot layout under /etc/letsencrypt/live.
	CertsDir string `yaml:"certs_dir"`
}

// DefaultConfig returns the configuration the server runs with when no
// file is given.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir,
		Log:     LogConfig{Level: log.InfoLevel},
		Metrics: MetricsConfig{Listen: DefaultMetricsAddr},
		Reconciler: ReconcilerConfig{
			Interval:            types.Duration(reconciler.DefaultInterval),
			ProvisioningTimeout: types.Duration(types.DefaultProvisioningTimeout),
		},
		Planner: PlannerConfig{
			CallTimeout: types.Duration(planner.DefaultCallTimeout),
		},
		Runs: RunsConfig{
			RetryLimit:   types.Duration(types.DefaultRetryDuration),
			IdleDuration: types.Duration(types.DefaultRunIdleDuration),
		},
		Gateway: GatewayConfig{
			SitesDir:   DefaultSitesDir,
			CertIssuer: CertIssuerNone,
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server could not start with.
func (c *Config) Validate() error {
	switch c.Gateway.CertIssuer {
	case CertIssuerNone, CertIssuerCertbot, CertIssuerACME:
	default:
		return fmt.Errorf("unknown cert issuer %q (none, certbot or acme)", c.Gateway.CertIssuer)
	}
	if c.Gateway.Enabled && c.Gateway.Domain == "" {
		return fmt.Errorf("gateway enabled without a wildcard domain")
	}
	for i, b := range c.Backends {
		if b.Type == "" {
			return fmt.Errorf("backend %d has no type", i)
		}
	}
	return nil
}
