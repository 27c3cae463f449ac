package reconcile

import (
	"fmt"

	"cloudherd/internal/provider"
)

// InvalidTransitionError means the desired power state has no valid edge
// from the observed status. Fatal, never retried: it indicates a caller
// or manifest error.
type InvalidTransitionError struct {
	Name     string
	Observed provider.InstanceStatus // empty when no record exists
	Desired  PowerState
}

func (e *InvalidTransitionError) Error() string {
	observed := string(e.Observed)
	if observed == "" {
		observed = "absent"
	}
	return fmt.Sprintf("invalid transition for %q: observed %s, desired %s", e.Name, observed, e.Desired)
}

// PollTimeoutError means an accepted state change did not settle within
// the poll budget. LastRecord carries the last-observed state so callers
// can diagnose or re-poll.
type PollTimeoutError struct {
	ProviderID string
	Attempts   int
	LastRecord *provider.InstanceRecord
}

func (e *PollTimeoutError) Error() string {
	last := "unknown"
	if e.LastRecord != nil {
		last = string(e.LastRecord.Status)
	}
	return fmt.Sprintf("poll timeout for %s after %d attempts, last status %s", e.ProviderID, e.Attempts, last)
}

// CancelledError means the caller aborted the reconciliation. It always
// wins over PollTimeoutError when both apply.
type CancelledError struct {
	Err error // the context's error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("reconciliation cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// UnexpectedStateError means an instance reached a terminal status the
// operation cannot recover from, e.g. Terminated while waiting out a
// launch. Polling past it would never succeed.
type UnexpectedStateError struct {
	ProviderID string
	Record     *provider.InstanceRecord
}

func (e *UnexpectedStateError) Error() string {
	return fmt.Sprintf("instance %s entered unexpected status %s", e.ProviderID, e.Record.Status)
}
