package fleet

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloudherd/internal/inventory"
	"cloudherd/internal/journal"
	"cloudherd/internal/logging"
	"cloudherd/internal/probe"
	"cloudherd/internal/provider"
	"cloudherd/internal/reconcile"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome is the per-instance result of a fleet run.
type Outcome struct {
	Spec   reconcile.Spec
	Result *reconcile.Result
	Err    error
}

// Report aggregates one fleet run.
type Report struct {
	RunID    string
	Outcomes []Outcome
}

// Failed returns the joined error of all failed outcomes, nil when the
// whole run succeeded.
func (r *Report) Failed() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// Runner reconciles a whole manifest. Different names run in parallel on
// a bounded pool; each name is submitted exactly once, which is the
// per-name serialization the reconciler requires of its callers.
type Runner struct {
	reconciler  *reconcile.Reconciler
	writer      *inventory.Writer
	journal     journal.Journal
	prober      *probe.HTTPProbe
	maxParallel int
}

// NewRunner creates a fleet runner. The journal and writer may be nil
// when no persistence or artifacts are wanted (status-only runs).
func NewRunner(rec *reconcile.Reconciler, writer *inventory.Writer, jrnl journal.Journal, prober *probe.HTTPProbe, maxParallel int) *Runner {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Runner{
		reconciler:  rec,
		writer:      writer,
		journal:     jrnl,
		prober:      prober,
		maxParallel: maxParallel,
	}
}

// Run reconciles every spec and returns the aggregated report. The
// report's order follows the manifest so artifact output is
// deterministic across runs.
func (r *Runner) Run(ctx context.Context, specs []reconcile.Spec) *Report {
	report := &Report{
		RunID:    uuid.NewString(),
		Outcomes: make([]Outcome, len(specs)),
	}

	logging.Logger().Info("starting fleet run",
		zap.String("run_id", report.RunID),
		zap.Int("instances", len(specs)),
		zap.Int("max_parallel", r.maxParallel))

	pool := pond.NewPool(r.maxParallel)
	var mu sync.Mutex

	for i, spec := range specs {
		pool.Submit(func() {
			outcome := r.reconcileOne(ctx, spec, report.RunID)
			mu.Lock()
			report.Outcomes[i] = outcome
			mu.Unlock()
		})
	}
	pool.StopAndWait()

	// Artifacts are written after all workers finish, in manifest
	// order, so the inventory file is stable across runs.
	r.writeArtifacts(report)

	return report
}

func (r *Runner) reconcileOne(ctx context.Context, spec reconcile.Spec, runID string) Outcome {
	logging.Logger().Info("reconciling instance",
		zap.String("name", spec.Name),
		zap.String("desired", string(spec.Desired)),
		zap.String("user_data", logging.Truncate(spec.UserData)))

	res, err := r.reconciler.Reconcile(ctx, spec)
	if err == nil && res.FinalStatus == provider.StatusRunning && spec.ProbeURL != "" && r.prober != nil {
		err = r.probeReachable(ctx, spec, res)
	}

	if err != nil {
		logging.Logger().Error("reconciliation failed",
			zap.String("name", spec.Name),
			zap.Error(err))
	} else {
		logging.Logger().Info("reconciliation finished",
			zap.String("name", spec.Name),
			zap.String("action", string(res.Action)),
			zap.String("status", string(res.FinalStatus)))
	}

	r.record(ctx, spec, res, err, runID)

	return Outcome{Spec: spec, Result: res, Err: err}
}

// probeReachable checks the configured URL once the instance is
// Running. A Running instance that never serves is reported the same
// way as one that never settled.
func (r *Runner) probeReachable(ctx context.Context, spec reconcile.Spec, res *reconcile.Result) error {
	logging.Logger().Info("probing instance reachability",
		zap.String("name", spec.Name),
		zap.String("url", spec.ProbeURL))

	if err := r.prober.Check(ctx, spec.ProbeURL); err != nil {
		if ctx.Err() != nil {
			return &reconcile.CancelledError{Err: ctx.Err()}
		}
		return &reconcile.PollTimeoutError{
			ProviderID: res.ProviderID,
			Attempts:   r.prober.Retries(),
			LastRecord: &provider.InstanceRecord{
				ProviderID:    res.ProviderID,
				Name:          spec.Name,
				Status:        res.FinalStatus,
				PublicAddress: res.PublicAddress,
			},
		}
	}
	return nil
}

// record saves the outcome to the journal. Journal failures are logged
// and do not overwrite the reconciliation outcome.
func (r *Runner) record(ctx context.Context, spec reconcile.Spec, res *reconcile.Result, runErr error, runID string) {
	if r.journal == nil {
		return
	}

	entry := journal.Entry{
		Name:      spec.Name,
		RunID:     runID,
		UpdatedAt: time.Now(),
	}
	if res != nil {
		entry.ProviderID = res.ProviderID
		entry.Action = string(res.Action)
		entry.FinalStatus = string(res.FinalStatus)
		entry.PublicAddress = res.PublicAddress
		entry.InventoryLine = res.InventoryLine
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}

	if err := r.journal.SaveEntry(ctx, entry); err != nil {
		logging.Logger().Error("failed to save journal entry",
			zap.String("name", spec.Name),
			zap.Error(err))
	}
}

// writeArtifacts emits inventory and connection-info records for every
// instance that ended up Running. A sink failure stops artifact output
// but never triggers compensating provider calls: the cloud resources
// exist whether or not the files were written.
func (r *Runner) writeArtifacts(report *Report) {
	if r.writer == nil {
		return
	}

	for i := range report.Outcomes {
		o := &report.Outcomes[i]
		if o.Err != nil || o.Result == nil || o.Result.FinalStatus != provider.StatusRunning {
			continue
		}
		rec := inventory.Record{
			Name:          o.Spec.Name,
			ProviderID:    o.Result.ProviderID,
			PublicAddress: o.Result.PublicAddress,
			User:          o.Spec.User,
			KeyName:       o.Spec.KeyName,
		}
		if err := r.writer.Write(rec); err != nil {
			logging.Logger().Error("failed to write artifacts",
				zap.String("name", o.Spec.Name),
				zap.Error(err))
			o.Err = err
		}
	}
}
