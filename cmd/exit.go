package cmd

import (
	"errors"

	"cloudherd/internal/provider"
	"cloudherd/internal/reconcile"
)

// Exit codes, one per failure class, so scripts can branch on the
// outcome without parsing log output.
const (
	exitOK                = 0
	exitGeneric           = 1
	exitInvalidTransition = 2
	exitProviderError     = 3
	exitPollTimeout       = 4
	exitCancelled         = 5
)

// exitCode maps an error (possibly a joined fleet error) to the exit
// convention. Cancellation is checked first: an aborted run reports
// Cancelled even when individual instances also failed.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var cancelled *reconcile.CancelledError
	if errors.As(err, &cancelled) {
		return exitCancelled
	}
	var invalid *reconcile.InvalidTransitionError
	if errors.As(err, &invalid) {
		return exitInvalidTransition
	}
	var provErr *provider.ProviderError
	if errors.As(err, &provErr) {
		return exitProviderError
	}
	var timeout *reconcile.PollTimeoutError
	if errors.As(err, &timeout) {
		return exitPollTimeout
	}
	return exitGeneric
}
