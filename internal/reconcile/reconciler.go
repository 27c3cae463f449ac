package reconcile

import (
	"context"

	"cloudherd/internal/inventory"
	"cloudherd/internal/logging"
	"cloudherd/internal/provider"

	"go.uber.org/zap"
)

// PowerState is the caller's target lifecycle state for an instance.
// Rebooted is an edge, not a resting state: it reconciles through a
// reboot and settles back to Running.
type PowerState string

const (
	PowerRunning    PowerState = "running"
	PowerStopped    PowerState = "stopped"
	PowerTerminated PowerState = "terminated"
	PowerRebooted   PowerState = "rebooted"
)

// Valid reports whether the power state is one of the known values.
func (s PowerState) Valid() bool {
	switch s {
	case PowerRunning, PowerStopped, PowerTerminated, PowerRebooted:
		return true
	}
	return false
}

// Action is the single minimal step computed from the desired/observed
// diff.
type Action string

const (
	ActionNone      Action = "none"
	ActionLaunch    Action = "launch"
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionReboot    Action = "reboot"
	ActionTerminate Action = "terminate"
)

// Spec is one desired-state descriptor handed to Reconcile. Immutable
// per call.
type Spec struct {
	provider.InstanceSpec

	Desired PowerState
	// ProbeURL, when set, is checked for reachability after the
	// instance reaches Running. Handled by the fleet runner.
	ProbeURL string
}

// Result is the terminal output of one reconciliation call. On failure
// the error is returned alongside a best-effort Result so callers can
// still see what was observed.
type Result struct {
	Name          string
	ProviderID    string
	Action        Action
	FinalStatus   provider.InstanceStatus
	PublicAddress string
	InventoryLine string
}

// Reconciler diffs a desired spec against the provider's observed state
// and drives the single valid transition. Concurrent calls for the same
// name are not serialized here; callers must do that themselves.
type Reconciler struct {
	provider provider.Provider
	poller   *Poller
}

// New creates a reconciler around a provider and poller.
func New(p provider.Provider, poller *Poller) *Reconciler {
	return &Reconciler{provider: p, poller: poller}
}

// Reconcile runs one full pass: resolve the security boundary, resolve
// the observed record, compute the action, execute it, wait for it to
// settle, and assemble the result.
func (r *Reconciler) Reconcile(ctx context.Context, spec Spec) (*Result, error) {
	res := &Result{Name: spec.Name, Action: ActionNone}

	if err := ctx.Err(); err != nil {
		return res, &CancelledError{Err: err}
	}
	if !spec.Desired.Valid() {
		return res, &InvalidTransitionError{Name: spec.Name, Desired: spec.Desired}
	}

	boundary, err := r.resolveBoundary(ctx, spec)
	if err != nil {
		return res, err
	}

	observed, err := r.provider.FindInstanceByTag(ctx, spec.Name)
	if err != nil {
		return res, err
	}

	// Transient observed states resolve on their own; wait them out
	// before computing the action so we diff against a stable record.
	if observed != nil && observed.Status.Settling() {
		logging.Logger().Info("waiting for observed state to settle",
			zap.String("name", spec.Name),
			zap.String("provider_id", observed.ProviderID),
			zap.String("status", string(observed.Status)))
		observed, err = r.poller.WaitFor(ctx, observed.ProviderID, Settled, nil)
		if err != nil {
			r.fill(res, observed, spec)
			return res, err
		}
	}
	if observed != nil {
		res.ProviderID = observed.ProviderID
	}

	action, err := computeAction(spec.Name, observed, spec.Desired)
	if err != nil {
		return res, err
	}
	res.Action = action

	logging.Logger().Info("computed reconciliation action",
		zap.String("name", spec.Name),
		zap.String("action", string(action)),
		zap.String("desired", string(spec.Desired)))

	final, err := r.execute(ctx, spec, boundary, observed, action, res)
	if err != nil {
		r.fill(res, final, spec)
		return res, err
	}

	r.fill(res, final, spec)
	return res, nil
}

// resolveBoundary finds the derived security boundary, creating it only
// when absent. The find-before-create check is the idempotency contract;
// the provider has no create-if-absent primitive to lean on.
func (r *Reconciler) resolveBoundary(ctx context.Context, spec Spec) (provider.BoundaryID, error) {
	name := spec.DerivedBoundaryName()

	id, err := r.provider.FindSecurityBoundary(ctx, name)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	logging.Logger().Info("creating security boundary",
		zap.String("boundary", name),
		zap.Int("rules", len(spec.Rules)))
	return r.provider.CreateSecurityBoundary(ctx, name, spec.Rules)
}

// computeAction picks the single valid edge from the transition graph,
// or fails with InvalidTransition when none exists. A Terminated record
// is treated as absent: terminated instances are never resurrected, a
// fresh launch gets a new provider id.
func computeAction(name string, observed *provider.InstanceRecord, desired PowerState) (Action, error) {
	if !observed.Live() {
		switch desired {
		case PowerRunning:
			return ActionLaunch, nil
		case PowerTerminated:
			return ActionNone, nil
		}
		return ActionNone, invalidTransition(name, observed, desired)
	}

	switch observed.Status {
	case provider.StatusRunning:
		switch desired {
		case PowerRunning:
			return ActionNone, nil
		case PowerStopped:
			return ActionStop, nil
		case PowerTerminated:
			return ActionTerminate, nil
		case PowerRebooted:
			return ActionReboot, nil
		}
	case provider.StatusStopped:
		switch desired {
		case PowerRunning:
			return ActionStart, nil
		case PowerStopped:
			return ActionNone, nil
		case PowerTerminated:
			return ActionTerminate, nil
		}
	}
	return ActionNone, invalidTransition(name, observed, desired)
}

func invalidTransition(name string, observed *provider.InstanceRecord, desired PowerState) *InvalidTransitionError {
	e := &InvalidTransitionError{Name: name, Desired: desired}
	if observed != nil {
		e.Observed = observed.Status
	}
	return e
}

// execute drives the computed action through the provider and waits for
// the resulting transition. Mutating calls are issued exactly once.
func (r *Reconciler) execute(ctx context.Context, spec Spec, boundary provider.BoundaryID, observed *provider.InstanceRecord, action Action, res *Result) (*provider.InstanceRecord, error) {
	switch action {
	case ActionNone:
		return observed, nil

	case ActionLaunch:
		providerID, err := r.provider.LaunchInstance(ctx, spec.InstanceSpec, boundary)
		if err != nil {
			return observed, err
		}
		res.ProviderID = providerID
		logging.Logger().Info("launched instance",
			zap.String("name", spec.Name),
			zap.String("provider_id", providerID))
		// Terminated mid-launch means the instance died on arrival;
		// polling past it would never succeed.
		return r.poller.WaitFor(ctx, providerID,
			StatusIs(provider.StatusRunning),
			StatusIs(provider.StatusTerminated))

	case ActionStart:
		if err := r.provider.ChangeInstanceState(ctx, observed.ProviderID, provider.ActionStart); err != nil {
			return observed, err
		}
		return r.poller.WaitFor(ctx, observed.ProviderID, StatusIs(provider.StatusRunning), nil)

	case ActionStop:
		if err := r.provider.ChangeInstanceState(ctx, observed.ProviderID, provider.ActionStop); err != nil {
			return observed, err
		}
		return r.poller.WaitFor(ctx, observed.ProviderID, StatusIs(provider.StatusStopped), nil)

	case ActionReboot:
		if err := r.provider.ChangeInstanceState(ctx, observed.ProviderID, provider.ActionReboot); err != nil {
			return observed, err
		}
		return r.poller.WaitFor(ctx, observed.ProviderID, StatusIs(provider.StatusRunning), nil)

	case ActionTerminate:
		if err := r.provider.ChangeInstanceState(ctx, observed.ProviderID, provider.ActionTerminate); err != nil {
			return observed, err
		}
		return r.poller.WaitFor(ctx, observed.ProviderID, StatusIs(provider.StatusTerminated), nil)
	}

	return observed, nil
}

// fill assembles the result from the final record. The public address
// and inventory line are only trusted once the instance is Running.
func (r *Reconciler) fill(res *Result, final *provider.InstanceRecord, spec Spec) {
	if final == nil {
		if res.FinalStatus == "" && res.Action == ActionNone {
			// Absent record with desired Terminated: nothing exists,
			// which is exactly the desired terminal state.
			res.FinalStatus = provider.StatusTerminated
		}
		return
	}
	res.ProviderID = final.ProviderID
	res.FinalStatus = final.Status
	if final.Status == provider.StatusRunning {
		res.PublicAddress = final.PublicAddress
		res.InventoryLine = inventory.Line(spec.Name, final.PublicAddress, spec.User)
	}
}
