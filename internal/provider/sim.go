package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SimProvider is an in-memory Provider used by tests. Instances settle
// out of transient states after SettleAfter describe calls, so tests can
// drive the poller without sleeping against a real cloud.
type SimProvider struct {
	mu sync.Mutex

	boundaries map[string]BoundaryID
	instances  map[string]*simInstance
	nextID     int

	// SettleAfter is the number of DescribeInstance calls a transient
	// status survives before resolving. Zero settles immediately.
	SettleAfter int

	// Frozen pins every instance to its current status; transient
	// states never resolve. Used to exercise poll timeouts.
	Frozen bool

	// Fail maps an operation name to an error the next call returns.
	Fail map[string]error

	// Call counters, by operation.
	LaunchCalls         int
	BoundaryFindCalls   int
	BoundaryCreateCalls int
	StateChangeCalls    int
	DescribeCalls       int
}

type simInstance struct {
	record   InstanceRecord
	pending  InstanceStatus // status the record settles into
	settleIn int
}

// NewSimProvider creates an empty simulated provider.
func NewSimProvider() *SimProvider {
	return &SimProvider{
		boundaries: make(map[string]BoundaryID),
		instances:  make(map[string]*simInstance),
		Fail:       make(map[string]error),
	}
}

// AddBoundary seeds an existing security boundary.
func (s *SimProvider) AddBoundary(name string) BoundaryID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := BoundaryID(fmt.Sprintf("sg-%04d", len(s.boundaries)+1))
	s.boundaries[name] = id
	return id
}

// AddInstance seeds an instance record in the given status and returns
// its provider id.
func (s *SimProvider) AddInstance(name string, status InstanceStatus, publicAddr string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	inst := &simInstance{
		record: InstanceRecord{
			ProviderID:    id,
			Name:          name,
			Status:        status,
			PublicAddress: publicAddr,
		},
		settleIn: s.SettleAfter,
	}
	// Seeded transient statuses resolve the way the provider would.
	switch status {
	case StatusPending:
		inst.pending = StatusRunning
	case StatusStopping:
		inst.pending = StatusStopped
	case StatusShuttingDown:
		inst.pending = StatusTerminated
	}
	s.instances[id] = inst
	return id
}

func (s *SimProvider) newID() string {
	s.nextID++
	return fmt.Sprintf("i-sim%04d", s.nextID)
}

func (s *SimProvider) failure(op string) error {
	if err, ok := s.Fail[op]; ok {
		delete(s.Fail, op)
		return &ProviderError{Op: op, Err: err}
	}
	return nil
}

// FindSecurityBoundary implements Provider.
func (s *SimProvider) FindSecurityBoundary(_ context.Context, name string) (BoundaryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BoundaryFindCalls++
	if err := s.failure("FindSecurityBoundary"); err != nil {
		return "", err
	}
	return s.boundaries[name], nil
}

// CreateSecurityBoundary implements Provider.
func (s *SimProvider) CreateSecurityBoundary(_ context.Context, name string, _ []SecurityRule) (BoundaryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BoundaryCreateCalls++
	if err := s.failure("CreateSecurityBoundary"); err != nil {
		return "", err
	}
	id := BoundaryID(fmt.Sprintf("sg-%04d", len(s.boundaries)+1))
	s.boundaries[name] = id
	return id, nil
}

// FindInstanceByTag implements Provider. Live records win over
// terminated ones, matching the AWS adapter.
func (s *SimProvider) FindInstanceByTag(_ context.Context, name string) (*InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("FindInstanceByTag"); err != nil {
		return nil, err
	}
	var terminated *InstanceRecord
	for _, inst := range s.instances {
		if inst.record.Name != name {
			continue
		}
		rec := inst.record
		if rec.Live() {
			return &rec, nil
		}
		terminated = &rec
	}
	return terminated, nil
}

// LaunchInstance implements Provider.
func (s *SimProvider) LaunchInstance(_ context.Context, spec InstanceSpec, _ BoundaryID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LaunchCalls++
	if err := s.failure("LaunchInstance"); err != nil {
		return "", err
	}
	id := s.newID()
	s.instances[id] = &simInstance{
		record: InstanceRecord{
			ProviderID: id,
			Name:       spec.Name,
			Status:     StatusPending,
		},
		pending:  StatusRunning,
		settleIn: s.SettleAfter,
	}
	return id, nil
}

// DescribeInstance implements Provider. Each call ticks the settle
// counter of a transient instance.
func (s *SimProvider) DescribeInstance(_ context.Context, providerID string) (*InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DescribeCalls++
	if err := s.failure("DescribeInstance"); err != nil {
		return nil, err
	}
	inst, ok := s.instances[providerID]
	if !ok {
		return nil, &ProviderError{Op: "DescribeInstance", Err: errors.New("instance not found")}
	}
	if !s.Frozen && inst.record.Status.Settling() && inst.pending != "" {
		if inst.settleIn > 0 {
			inst.settleIn--
		} else {
			inst.record.Status = inst.pending
			inst.pending = ""
			if inst.record.Status == StatusRunning && inst.record.PublicAddress == "" {
				inst.record.PublicAddress = fmt.Sprintf("198.51.100.%d", s.nextID)
			}
			if inst.record.Status == StatusTerminated {
				inst.record.PublicAddress = ""
			}
		}
	}
	rec := inst.record
	return &rec, nil
}

// ChangeInstanceState implements Provider.
func (s *SimProvider) ChangeInstanceState(_ context.Context, providerID string, action PowerAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StateChangeCalls++
	if err := s.failure("ChangeInstanceState"); err != nil {
		return err
	}
	inst, ok := s.instances[providerID]
	if !ok {
		return &ProviderError{Op: "ChangeInstanceState", Err: errors.New("instance not found")}
	}
	switch action {
	case ActionStart:
		inst.record.Status = StatusPending
		inst.pending = StatusRunning
	case ActionStop:
		inst.record.Status = StatusStopping
		inst.pending = StatusStopped
	case ActionReboot:
		// No externally visible intermediate state.
		inst.record.Status = StatusRunning
	case ActionTerminate:
		inst.record.Status = StatusShuttingDown
		inst.pending = StatusTerminated
	}
	inst.settleIn = s.SettleAfter
	return nil
}
