package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cloudherd/internal/provider"
	"cloudherd/internal/reconcile"
)

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"invalid transition", &reconcile.InvalidTransitionError{Name: "web1"}, exitInvalidTransition},
		{"provider error", &provider.ProviderError{Op: "LaunchInstance", Err: errors.New("quota")}, exitProviderError},
		{"poll timeout", &reconcile.PollTimeoutError{ProviderID: "i-1"}, exitPollTimeout},
		{"cancelled", &reconcile.CancelledError{Err: context.Canceled}, exitCancelled},
		{"generic", errors.New("manifest broken"), exitGeneric},
		{"wrapped provider error", fmt.Errorf("run failed: %w", &provider.ProviderError{Op: "StopInstances", Err: errors.New("denied")}), exitProviderError},
		{
			"cancellation wins in joined errors",
			errors.Join(
				&reconcile.PollTimeoutError{ProviderID: "i-1"},
				&reconcile.CancelledError{Err: context.Canceled},
			),
			exitCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
