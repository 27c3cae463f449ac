package reconcile

import (
	"context"
	"time"

	"cloudherd/internal/logging"
	"cloudherd/internal/provider"

	"go.uber.org/zap"
)

// Predicate decides whether an observed record satisfies a wait.
type Predicate func(*provider.InstanceRecord) bool

// StatusIs returns a predicate matching a single status.
func StatusIs(status provider.InstanceStatus) Predicate {
	return func(rec *provider.InstanceRecord) bool {
		return rec.Status == status
	}
}

// Settled matches any non-transient status.
func Settled(rec *provider.InstanceRecord) bool {
	return !rec.Status.Settling()
}

// Poller waits for provider-side transitions by re-describing an
// instance with capped exponential backoff. Mutating calls are never
// retried here; only observation is.
type Poller struct {
	Provider    provider.Provider
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewPoller creates a poller with the given bounds.
func NewPoller(p provider.Provider, maxAttempts int, baseDelay, maxDelay time.Duration) *Poller {
	return &Poller{
		Provider:    p,
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
	}
}

// WaitFor polls DescribeInstance until the until predicate is satisfied.
// A non-nil failOn predicate aborts the wait as soon as it matches (used
// to stop polling past Terminated during a launch). Exhausting the
// attempt budget returns a *PollTimeoutError carrying the last-observed
// record; a cancelled context returns *CancelledError, which takes
// precedence over the timeout.
func (p *Poller) WaitFor(ctx context.Context, providerID string, until Predicate, failOn Predicate) (*provider.InstanceRecord, error) {
	var (
		lastRec *provider.InstanceRecord
		lastErr error
	)

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastRec, &CancelledError{Err: err}
		}

		rec, err := p.Provider.DescribeInstance(ctx, providerID)
		if err != nil {
			// Describe is the one place retry is allowed: a transient
			// describe failure burns an attempt, nothing more.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return lastRec, &CancelledError{Err: ctxErr}
			}
			logging.Logger().Warn("describe failed during poll",
				zap.String("provider_id", providerID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			lastErr = err
		} else {
			lastRec = rec
			if until(rec) {
				return rec, nil
			}
			if failOn != nil && failOn(rec) {
				return rec, &UnexpectedStateError{ProviderID: providerID, Record: rec}
			}
			logging.Logger().Debug("still waiting for instance",
				zap.String("provider_id", providerID),
				zap.String("status", string(rec.Status)),
				zap.Int("attempt", attempt+1))
		}

		if attempt == p.MaxAttempts-1 {
			break
		}
		if err := p.sleep(ctx, p.delay(attempt)); err != nil {
			return lastRec, &CancelledError{Err: err}
		}
	}

	if err := ctx.Err(); err != nil {
		return lastRec, &CancelledError{Err: err}
	}
	if lastRec == nil && lastErr != nil {
		return nil, lastErr
	}
	return lastRec, &PollTimeoutError{
		ProviderID: providerID,
		Attempts:   p.MaxAttempts,
		LastRecord: lastRec,
	}
}

// delay computes the capped exponential backoff for an attempt.
func (p *Poller) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// sleep blocks for d or until the context is cancelled.
func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
