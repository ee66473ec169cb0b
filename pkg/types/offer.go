package types

// BackendType identifies a cloud provider integration.
type BackendType string

const (
	BackendTypeAWS        BackendType = "aws"
	BackendTypeAzure      BackendType = "azure"
	BackendTypeCudo       BackendType = "cudo"
	BackendTypeDataCrunch BackendType = "datacrunch"
	BackendTypeGCP        BackendType = "gcp"
	BackendTypeLambda     BackendType = "lambda"
	BackendTypeTensorDock BackendType = "tensordock"
	BackendTypeVastAI     BackendType = "vastai"
	BackendTypeKubernetes BackendType = "kubernetes"
	BackendTypeRemote     BackendType = "remote"

	// BackendTypeAggregator is the marketplace meta-backend. It brokers
	// offers for several concrete backends, so profile backend filters
	// retain it and its offers are re-filtered after the query.
	BackendTypeAggregator BackendType = "aggregator"
)

// CreateInstanceBackends lists the backends able to provision standalone
// pool instances. The rest only run jobs on machines they already manage.
var CreateInstanceBackends = []BackendType{
	BackendTypeAWS,
	BackendTypeAzure,
	BackendTypeCudo,
	BackendTypeDataCrunch,
	BackendTypeGCP,
	BackendTypeLambda,
	BackendTypeTensorDock,
}

// SupportsCreateInstance reports whether the backend can create instances
// outside of a job submission.
func (b BackendType) SupportsCreateInstance() bool {
	for _, t := range CreateInstanceBackends {
		if b == t {
			return true
		}
	}
	return false
}

// InstanceRuntime distinguishes how jobs reach an instance.
type InstanceRuntime string

const (
	// InstanceRuntimeShim marks instances managed through the host shim,
	// which can outlive a single job.
	InstanceRuntimeShim InstanceRuntime = "shim"
	// InstanceRuntimeRunner marks instances that exist only for the
	// lifetime of one job and cannot be provisioned standalone.
	InstanceRuntimeRunner InstanceRuntime = "runner"
)

// InstanceAvailability qualifies an offer at query time.
type InstanceAvailability string

const (
	InstanceAvailabilityUnknown      InstanceAvailability = "unknown"
	InstanceAvailabilityAvailable    InstanceAvailability = "available"
	InstanceAvailabilityNotAvailable InstanceAvailability = "not_available"
	InstanceAvailabilityNoQuota      InstanceAvailability = "no_quota"
	InstanceAvailabilityIdle         InstanceAvailability = "idle"
	InstanceAvailabilityBusy         InstanceAvailability = "busy"
)

// IsAvailable reports whether an offer with this availability may be
// provisioned. Unknown counts as available; backends that cannot tell
// report it instead of guessing.
func (a InstanceAvailability) IsAvailable() bool {
	return a != InstanceAvailabilityNotAvailable && a != InstanceAvailabilityNoQuota
}

// GPU describes a single accelerator of an instance type.
type GPU struct {
	Name      string
	MemoryMiB int
}

// Resources describes the hardware of an instance type.
type Resources struct {
	CPUs        int
	MemoryMiB   int
	GPUs        []GPU
	Spot        bool
	DiskSizeMiB int
	Description string
}

// InstanceType pairs a backend's instance type name with its resources.
type InstanceType struct {
	Name      string
	Resources Resources
}

// Offer is a priced instance type in a region, as returned by a backend
// or derived from an existing pool instance.
type Offer struct {
	Backend      BackendType
	Region       string
	Instance     InstanceType
	Price        float64 // USD per hour
	Availability InstanceAvailability
	Runtime      InstanceRuntime
	PoolInstance string // instance id when the offer reuses pool capacity
}

// SSHKey is a keypair in OpenSSH encoding. Private may be empty when only
// the public half is known.
type SSHKey struct {
	Public  string
	Private string
}

// InstanceConfiguration is the create-instance request handed to a backend.
type InstanceConfiguration struct {
	ProjectName  string
	InstanceName string
	User         string
	SSHKeys      []SSHKey
	Image        string // container image preloaded on the instance
}

// LaunchedInstance reports a successful backend create call.
type LaunchedInstance struct {
	InstanceID string
	Hostname   string
	Region     string
	Username   string
	SSHPort    int
	Runtime    InstanceRuntime
}

// ProvisioningData captures where a job or instance landed. It is attached
// to the job submission once provisioning succeeds and is all the server
// needs to reach the runner.
type ProvisioningData struct {
	Backend      BackendType
	Instance     InstanceType
	InstanceID   string
	Hostname     string
	Region       string
	Price        float64
	Username     string
	SSHPort      int
	Runtime      InstanceRuntime
	RunnerPort   int
}
