package provider

import (
	"context"
	"fmt"
)

// InstanceStatus mirrors the provider-side instance state machine.
type InstanceStatus string

const (
	StatusPending      InstanceStatus = "pending"
	StatusRunning      InstanceStatus = "running"
	StatusStopping     InstanceStatus = "stopping"
	StatusStopped      InstanceStatus = "stopped"
	StatusShuttingDown InstanceStatus = "shutting-down"
	StatusTerminated   InstanceStatus = "terminated"
)

// Settling reports whether the status is a transient provider-side state
// that will resolve on its own (no action should be computed against it).
func (s InstanceStatus) Settling() bool {
	switch s {
	case StatusPending, StatusStopping, StatusShuttingDown:
		return true
	}
	return false
}

// PowerAction is a state-changing verb accepted by ChangeInstanceState.
type PowerAction string

const (
	ActionStart     PowerAction = "start"
	ActionStop      PowerAction = "stop"
	ActionReboot    PowerAction = "reboot"
	ActionTerminate PowerAction = "terminate"
)

// SecurityRule is a single ingress rule of a security boundary.
type SecurityRule struct {
	Protocol   string `yaml:"protocol"`
	FromPort   int32  `yaml:"from_port"`
	ToPort     int32  `yaml:"to_port"`
	SourceCIDR string `yaml:"source_cidr"`
}

// BoundaryID is the provider-assigned handle of a security boundary.
type BoundaryID string

// InstanceSpec is the desired-state descriptor for a single instance.
// It is immutable for the duration of one reconciliation call.
type InstanceSpec struct {
	Name         string
	ImageID      string
	InstanceType string
	KeyName      string
	User         string
	UserData     string
	Rules        []SecurityRule
	// BoundaryName is the derived security boundary name; defaults to
	// "<Name>-sg" when left empty.
	BoundaryName string
}

// DerivedBoundaryName returns the security boundary name for the spec.
func (s InstanceSpec) DerivedBoundaryName() string {
	if s.BoundaryName != "" {
		return s.BoundaryName
	}
	return s.Name + "-sg"
}

// InstanceRecord is the provider's authoritative view of an instance.
// It is read-only to the reconciler; only provider-side transitions
// mutate it.
type InstanceRecord struct {
	ProviderID     string
	Name           string
	Status         InstanceStatus
	PublicAddress  string
	PrivateAddress string
}

// Live reports whether the record still occupies the name, i.e. it has
// not been terminated and is not on its way out.
func (r *InstanceRecord) Live() bool {
	return r != nil && r.Status != StatusTerminated
}

// Provider is the capability surface the reconciler requires from a
// cloud provider. Implementations wrap the provider SDK; any failure is
// returned as a *ProviderError.
type Provider interface {
	// FindSecurityBoundary looks a boundary up by name. A missing
	// boundary returns ("", nil), not an error.
	FindSecurityBoundary(ctx context.Context, name string) (BoundaryID, error)

	// CreateSecurityBoundary creates a boundary with the given ingress
	// rules and returns its handle.
	CreateSecurityBoundary(ctx context.Context, name string, rules []SecurityRule) (BoundaryID, error)

	// FindInstanceByTag resolves the instance tagged with name. A live
	// record wins over terminated ones; nil means no record at all.
	FindInstanceByTag(ctx context.Context, name string) (*InstanceRecord, error)

	// LaunchInstance provisions a fresh instance and returns its
	// provider id. It does not wait for the instance to settle.
	LaunchInstance(ctx context.Context, spec InstanceSpec, boundary BoundaryID) (string, error)

	// DescribeInstance fetches the current record for a provider id.
	DescribeInstance(ctx context.Context, providerID string) (*InstanceRecord, error)

	// ChangeInstanceState issues a power action. Fire and forget: the
	// resulting transition is observed through DescribeInstance.
	ChangeInstanceState(ctx context.Context, providerID string, action PowerAction) error
}

// ProviderError wraps a failed remote call. The reconciler never retries
// these automatically; they surface to the caller as-is.
type ProviderError struct {
	Op   string // the Provider operation that failed
	Code string // provider-side error code, if any
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
