package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigurationType discriminates the run configuration union.
type ConfigurationType string

const (
	ConfigurationTypeTask           ConfigurationType = "task"
	ConfigurationTypeService        ConfigurationType = "service"
	ConfigurationTypeDevEnvironment ConfigurationType = "dev-environment"
)

// Configuration is what the user submits: a task, a service, or a dev
// environment. Fields not meaningful for the type are ignored.
type Configuration struct {
	Type       ConfigurationType `yaml:"type"`
	Image      string            `yaml:"image,omitempty"`
	Python     string            `yaml:"python,omitempty"`
	Env        Env               `yaml:"env,omitempty"`
	Commands   []string          `yaml:"commands,omitempty"`
	Ports      []PortMapping     `yaml:"ports,omitempty"`
	Resources  ResourcesSpec     `yaml:"resources,omitempty"`
	WorkingDir string            `yaml:"working_dir,omitempty"`

	// Task only. Nodes > 1 fans one job out per node.
	Nodes int `yaml:"nodes,omitempty"`

	// Service only.
	Port     *PortMapping `yaml:"port,omitempty"`
	Replicas Range[int]   `yaml:"replicas,omitempty"`
	Auth     bool         `yaml:"auth,omitempty"`

	// Dev environment only.
	IDE string `yaml:"ide,omitempty"`
}

// Validate checks constraints shared by all configuration types.
func (c *Configuration) Validate() error {
	switch c.Type {
	case ConfigurationTypeTask, ConfigurationTypeService, ConfigurationTypeDevEnvironment:
	default:
		return fmt.Errorf("unknown configuration type %q", c.Type)
	}
	if c.Image != "" && c.Python != "" {
		return fmt.Errorf("image and python are mutually exclusive")
	}
	if c.Type == ConfigurationTypeService && c.Port == nil {
		return fmt.Errorf("service configuration requires a port")
	}
	if c.Type == ConfigurationTypeDevEnvironment && c.IDE == "" {
		return fmt.Errorf("dev environment configuration requires an ide")
	}
	if c.Nodes < 0 {
		return fmt.Errorf("nodes must be positive")
	}
	return nil
}

// NodeCount returns how many jobs one replica of the configuration needs.
func (c *Configuration) NodeCount() int {
	if c.Type == ConfigurationTypeTask && c.Nodes > 1 {
		return c.Nodes
	}
	return 1
}

// ReplicaCount returns the fixed replica count of the configuration.
// Replica ranges with min != max are rejected at submission.
func (c *Configuration) ReplicaCount() int {
	if c.Type != ConfigurationTypeService {
		return 1
	}
	if c.Replicas.Min == nil {
		return 1
	}
	return *c.Replicas.Min
}

// Env holds environment variables. YAML accepts either a mapping or a list
// of KEY=VALUE entries.
type Env map[string]string

func (e *Env) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		m := map[string]string{}
		if err := value.Decode(&m); err != nil {
			return err
		}
		*e = m
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		m := make(map[string]string, len(items))
		for _, item := range items {
			k, v, ok := strings.Cut(item, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid env entry %q, expected KEY=VALUE", item)
			}
			m[k] = v
		}
		*e = m
		return nil
	}
	return fmt.Errorf("env must be a mapping or a list of KEY=VALUE entries")
}

// PortMapping maps a host port to a container port. YAML accepts an int
// (container port only) or a "local:container" string.
type PortMapping struct {
	LocalPort     int
	ContainerPort int
}

func (p *PortMapping) UnmarshalYAML(value *yaml.Node) error {
	var n int
	if err := value.Decode(&n); err == nil {
		p.LocalPort = 0
		p.ContainerPort = n
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("port must be an integer or a LOCAL:CONTAINER string")
	}
	parsed, err := ParsePortMapping(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePortMapping parses "80", ":80" or "8080:80".
func ParsePortMapping(s string) (PortMapping, error) {
	local, container, ok := strings.Cut(s, ":")
	if !ok {
		container = local
		local = ""
	}
	var p PortMapping
	var err error
	if local != "" {
		if p.LocalPort, err = parsePort(local); err != nil {
			return p, err
		}
	}
	if p.ContainerPort, err = parsePort(container); err != nil {
		return p, err
	}
	return p, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return n, nil
}

// Range is a closed numeric interval with optional bounds. YAML accepts a
// scalar (min = max), a "min..max" string with either side open, or a
// {min, max} mapping.
type Range[T int | float64] struct {
	Min *T `yaml:"min,omitempty"`
	Max *T `yaml:"max,omitempty"`
}

func (r *Range[T]) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var raw struct {
			Min *T `yaml:"min"`
			Max *T `yaml:"max"`
		}
		if err := value.Decode(&raw); err != nil {
			return err
		}
		r.Min, r.Max = raw.Min, raw.Max
		return nil
	case yaml.ScalarNode:
		var v T
		if err := value.Decode(&v); err == nil {
			r.Min, r.Max = &v, &v
			return nil
		}
		var s string
		if err := value.Decode(&s); err != nil {
			return fmt.Errorf("invalid range value")
		}
		return r.parse(s)
	}
	return fmt.Errorf("range must be a scalar, a MIN..MAX string, or a {min, max} mapping")
}

func (r *Range[T]) parse(s string) error {
	lo, hi, ok := strings.Cut(s, "..")
	if !ok {
		return fmt.Errorf("invalid range %q, expected MIN..MAX", s)
	}
	parse := func(part string) (*T, error) {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid range bound %q", part)
		}
		v := T(f)
		return &v, nil
	}
	var err error
	if r.Min, err = parse(lo); err != nil {
		return err
	}
	if r.Max, err = parse(hi); err != nil {
		return err
	}
	if r.Min == nil && r.Max == nil {
		return fmt.Errorf("invalid range %q, both bounds empty", s)
	}
	return nil
}

// Fixed reports whether the range pins a single value.
func (r Range[T]) Fixed() bool {
	return r.Min != nil && r.Max != nil && *r.Min == *r.Max
}

// Matches reports whether v falls inside the range. Open bounds match
// anything on their side.
func (r Range[T]) Matches(v T) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

func (r Range[T]) String() string {
	format := func(p *T) string {
		if p == nil {
			return ""
		}
		return fmt.Sprintf("%v", *p)
	}
	return format(r.Min) + ".." + format(r.Max)
}

// Duration is a time.Duration that unmarshals from an integer number of
// seconds or a "<n><unit>" string with s, m, h, d or w units.
type Duration time.Duration

var durationRe = regexp.MustCompile(`^(\d+) *([smhdw])$`)

// ParseDuration parses "90s", "10m", "2h", "1d", "1w".
func ParseDuration(s string) (Duration, error) {
	m := durationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}
	return Duration(time.Duration(amount) * unit), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be an integer number of seconds or a string like 10m")
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SpotPolicy selects between spot and on-demand capacity.
type SpotPolicy string

const (
	SpotPolicySpot     SpotPolicy = "spot"
	SpotPolicyOnDemand SpotPolicy = "on-demand"
	SpotPolicyAuto     SpotPolicy = "auto"
)

// CreationPolicy controls whether submission may provision new instances.
type CreationPolicy string

const (
	CreationPolicyReuse         CreationPolicy = "reuse"
	CreationPolicyReuseOrCreate CreationPolicy = "reuse-or-create"
)

// TerminationPolicy controls what happens to an instance once idle.
type TerminationPolicy string

const (
	TerminationPolicyDontDestroy      TerminationPolicy = "dont-destroy"
	TerminationPolicyDestroyAfterIdle TerminationPolicy = "destroy-after-idle"
)

// RetryPolicy re-submits jobs that fail for retryable reasons until the
// limit elapses since the first submission.
type RetryPolicy struct {
	Retry bool     `yaml:"retry,omitempty"`
	Limit Duration `yaml:"limit,omitempty"`
}

// Profile tunes offer selection and instance lifecycle for a run.
type Profile struct {
	Name                string            `yaml:"name,omitempty"`
	Backends            []BackendType     `yaml:"backends,omitempty"`
	Regions             []string          `yaml:"regions,omitempty"`
	SpotPolicy          SpotPolicy        `yaml:"spot_policy,omitempty"`
	MaxPrice            *float64          `yaml:"max_price,omitempty"`
	MaxDuration         Duration          `yaml:"max_duration,omitempty"`
	RetryPolicy         RetryPolicy       `yaml:"retry_policy,omitempty"`
	CreationPolicy      CreationPolicy    `yaml:"creation_policy,omitempty"`
	TerminationPolicy   TerminationPolicy `yaml:"termination_policy,omitempty"`
	TerminationIdleTime Duration          `yaml:"termination_idle_time,omitempty"`
	PoolName            string            `yaml:"pool_name,omitempty"`
	InstanceName        string            `yaml:"instance_name,omitempty"`
}

// EffectiveCreationPolicy resolves the profile's creation policy.
// Profiles that name none may both reuse and create.
func (p *Profile) EffectiveCreationPolicy() CreationPolicy {
	if p.CreationPolicy == "" {
		return CreationPolicyReuseOrCreate
	}
	return p.CreationPolicy
}

// SpotRequirement derives the spot constraint from the profile.
// nil means either kind of capacity is acceptable.
func (p *Profile) SpotRequirement() *bool {
	switch p.SpotPolicy {
	case SpotPolicySpot:
		v := true
		return &v
	case SpotPolicyOnDemand:
		v := false
		return &v
	}
	return nil
}

// GPUSpec constrains accelerators in a resources request.
type GPUSpec struct {
	Name      []string       `yaml:"name,omitempty"`
	Count     Range[int]     `yaml:"count,omitempty"`
	MemoryMiB Range[float64] `yaml:"memory_mib,omitempty"`
}

// ResourcesSpec constrains the hardware a job may run on.
type ResourcesSpec struct {
	CPU       Range[int]     `yaml:"cpu,omitempty"`
	MemoryMiB Range[float64] `yaml:"memory_mib,omitempty"`
	GPU       *GPUSpec       `yaml:"gpu,omitempty"`
	DiskMiB   Range[float64] `yaml:"disk_mib,omitempty"`
}

// Matches reports whether the given hardware satisfies the request.
func (r ResourcesSpec) Matches(res Resources) bool {
	if !r.CPU.Matches(res.CPUs) {
		return false
	}
	if !r.MemoryMiB.Matches(float64(res.MemoryMiB)) {
		return false
	}
	if res.DiskSizeMiB > 0 && !r.DiskMiB.Matches(float64(res.DiskSizeMiB)) {
		return false
	}
	if r.GPU != nil {
		if !r.GPU.Count.Matches(len(res.GPUs)) {
			return false
		}
		for _, gpu := range res.GPUs {
			if len(r.GPU.Name) > 0 && !containsFold(r.GPU.Name, gpu.Name) {
				return false
			}
			if !r.GPU.MemoryMiB.Matches(float64(gpu.MemoryMiB)) {
				return false
			}
		}
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// Requirements is the offer filter derived from a configuration and
// profile at submission time.
type Requirements struct {
	Resources ResourcesSpec
	MaxPrice  *float64
	Spot      *bool
}

// Matches reports whether an offer's hardware and price satisfy the
// requirements.
func (r Requirements) Matches(o Offer) bool {
	if !r.Resources.Matches(o.Instance.Resources) {
		return false
	}
	if r.MaxPrice != nil && o.Price > *r.MaxPrice {
		return false
	}
	if r.Spot != nil && o.Instance.Resources.Spot != *r.Spot {
		return false
	}
	return true
}

// RunSpec is the full submission payload for a run.
type RunSpec struct {
	RunName           string        `yaml:"run_name,omitempty"`
	RepoID            string        `yaml:"repo_id"`
	WorkingDir        string        `yaml:"working_dir,omitempty"`
	ConfigurationPath string        `yaml:"configuration_path,omitempty"`
	Configuration     Configuration `yaml:"configuration"`
	Profile           Profile       `yaml:"profile,omitempty"`
	SSHKeyPub         string        `yaml:"ssh_key_pub,omitempty"`
}

// JobSpec is the frozen per-job slice of a run spec. It is copied onto the
// job row at materialization so later spec edits cannot affect it.
type JobSpec struct {
	ReplicaNum     int
	JobNum         int
	JobsPerReplica int
	Name           string
	Image          string
	Commands       []string
	Env            Env
	WorkingDir     string
	MaxDuration    Duration
	Requirements   Requirements
	RetryPolicy    RetryPolicy
}

var runNameRe = regexp.MustCompile(`^[a-z][a-z0-9-]{1,40}$`)

// ValidateRunName enforces the run naming rule: lowercase alphanumerics
// and hyphens, starting with a letter, 2 to 41 characters.
func ValidateRunName(name string) error {
	if !runNameRe.MatchString(name) {
		return fmt.Errorf("invalid run name %q", name)
	}
	return nil
}
