package e2e_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"time"

	"cloudherd/internal/fleet"
	"cloudherd/internal/inventory"
	"cloudherd/internal/journal"
	"cloudherd/internal/provider"
	"cloudherd/internal/reconcile"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func newSpec(name string, desired reconcile.PowerState) reconcile.Spec {
	return reconcile.Spec{
		InstanceSpec: provider.InstanceSpec{
			Name:         name,
			ImageID:      "ami-0abcdef",
			InstanceType: "t3.micro",
			KeyName:      "deploy",
			User:         "ubuntu",
			Rules: []provider.SecurityRule{
				{Protocol: "tcp", FromPort: 22, ToPort: 22, SourceCIDR: "0.0.0.0/0"},
			},
		},
		Desired: desired,
	}
}

var _ = Describe("Fleet reconciliation", func() {
	var (
		sim     *provider.SimProvider
		runner  *fleet.Runner
		jrnl    *journal.FileJournal
		inv     *bytes.Buffer
		info    *bytes.Buffer
		ctx     context.Context
		rebuild func()
	)

	BeforeEach(func() {
		ctx = context.Background()
		sim = provider.NewSimProvider()
		inv = &bytes.Buffer{}
		info = &bytes.Buffer{}

		var err error
		jrnl, err = journal.NewFileJournal(filepath.Join(GinkgoT().TempDir(), "journal.json"))
		Expect(err).NotTo(HaveOccurred())

		rebuild = func() {
			poller := reconcile.NewPoller(sim, 10, time.Millisecond, 4*time.Millisecond)
			rec := reconcile.New(sim, poller)
			writer := inventory.NewWriter(inv, info)
			runner = fleet.NewRunner(rec, writer, jrnl, nil, 4)
		}
		rebuild()
	})

	Context("applying a fresh manifest", func() {
		It("launches every instance and records artifacts", func() {
			specs := []reconcile.Spec{
				newSpec("web1", reconcile.PowerRunning),
				newSpec("web2", reconcile.PowerRunning),
			}

			report := runner.Run(ctx, specs)
			Expect(report.Failed()).NotTo(HaveOccurred())
			Expect(sim.LaunchCalls).To(Equal(2))

			Expect(inv.String()).To(ContainSubstring("web1 ansible_host="))
			Expect(inv.String()).To(ContainSubstring("web2 ansible_host="))
			Expect(info.String()).To(ContainSubstring("connect: ssh -i deploy.pem ubuntu@"))

			entry, err := jrnl.GetEntry(ctx, "web1")
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Action).To(Equal("launch"))
			Expect(entry.FinalStatus).To(Equal("running"))
			Expect(entry.RunID).To(Equal(report.RunID))
		})

		It("writes inventory lines in manifest order", func() {
			specs := []reconcile.Spec{
				newSpec("zeta", reconcile.PowerRunning),
				newSpec("alpha", reconcile.PowerRunning),
			}

			report := runner.Run(ctx, specs)
			Expect(report.Failed()).NotTo(HaveOccurred())

			zeta := bytes.Index(inv.Bytes(), []byte("zeta"))
			alpha := bytes.Index(inv.Bytes(), []byte("alpha"))
			Expect(zeta).To(BeNumerically(">=", 0))
			Expect(alpha).To(BeNumerically(">", zeta))
		})
	})

	Context("re-applying the same manifest", func() {
		It("is a no-op with zero additional launches", func() {
			specs := []reconcile.Spec{newSpec("web1", reconcile.PowerRunning)}

			Expect(runner.Run(ctx, specs).Failed()).NotTo(HaveOccurred())
			Expect(sim.LaunchCalls).To(Equal(1))
			Expect(sim.BoundaryCreateCalls).To(Equal(1))

			firstInventory := inv.String()
			inv.Reset()
			info.Reset()
			rebuild()

			report := runner.Run(ctx, specs)
			Expect(report.Failed()).NotTo(HaveOccurred())
			Expect(sim.LaunchCalls).To(Equal(1))
			Expect(sim.BoundaryCreateCalls).To(Equal(1))
			Expect(report.Outcomes[0].Result.Action).To(Equal(reconcile.ActionNone))

			Expect(inv.String()).To(Equal(firstInventory))
		})
	})

	Context("mixed desired states", func() {
		It("applies one minimal action per instance", func() {
			sim.AddInstance("keeper", provider.StatusRunning, "203.0.113.10")
			sim.AddInstance("sleeper", provider.StatusRunning, "203.0.113.11")
			sim.AddInstance("goner", provider.StatusStopped, "")

			specs := []reconcile.Spec{
				newSpec("keeper", reconcile.PowerRunning),
				newSpec("sleeper", reconcile.PowerStopped),
				newSpec("goner", reconcile.PowerTerminated),
				newSpec("newcomer", reconcile.PowerRunning),
			}

			report := runner.Run(ctx, specs)
			Expect(report.Failed()).NotTo(HaveOccurred())

			actions := map[string]reconcile.Action{}
			for _, o := range report.Outcomes {
				actions[o.Spec.Name] = o.Result.Action
			}
			Expect(actions).To(Equal(map[string]reconcile.Action{
				"keeper":   reconcile.ActionNone,
				"sleeper":  reconcile.ActionStop,
				"goner":    reconcile.ActionTerminate,
				"newcomer": reconcile.ActionLaunch,
			}))

			// Only running instances end up in the inventory.
			Expect(inv.String()).To(ContainSubstring("keeper"))
			Expect(inv.String()).To(ContainSubstring("newcomer"))
			Expect(inv.String()).NotTo(ContainSubstring("sleeper"))
			Expect(inv.String()).NotTo(ContainSubstring("goner"))
		})
	})

	Context("terminated records", func() {
		It("relaunches under a fresh provider id", func() {
			oldID := sim.AddInstance("web1", provider.StatusTerminated, "")

			report := runner.Run(ctx, []reconcile.Spec{newSpec("web1", reconcile.PowerRunning)})
			Expect(report.Failed()).NotTo(HaveOccurred())
			Expect(sim.LaunchCalls).To(Equal(1))
			Expect(sim.StateChangeCalls).To(BeZero())
			Expect(report.Outcomes[0].Result.ProviderID).NotTo(Equal(oldID))
		})
	})

	Context("shared security boundaries", func() {
		It("creates the boundary exactly once", func() {
			web1 := newSpec("web1", reconcile.PowerRunning)
			web2 := newSpec("web2", reconcile.PowerRunning)
			web1.BoundaryName = "shared-sg"
			web2.BoundaryName = "shared-sg"

			// Sequential runs: same-name ordering guarantees do not
			// extend to shared boundaries within one parallel batch.
			Expect(runner.Run(ctx, []reconcile.Spec{web1}).Failed()).NotTo(HaveOccurred())
			Expect(runner.Run(ctx, []reconcile.Spec{web2}).Failed()).NotTo(HaveOccurred())

			Expect(sim.BoundaryCreateCalls).To(Equal(1))
		})
	})

	Context("invalid transitions", func() {
		It("fails fast without touching the provider", func() {
			sim.AddInstance("web1", provider.StatusTerminated, "")

			report := runner.Run(ctx, []reconcile.Spec{newSpec("web1", reconcile.PowerRebooted)})
			err := report.Failed()
			Expect(err).To(HaveOccurred())

			var invalid *reconcile.InvalidTransitionError
			Expect(errors.As(err, &invalid)).To(BeTrue())
			Expect(sim.StateChangeCalls).To(BeZero())

			entry, jerr := jrnl.GetEntry(ctx, "web1")
			Expect(jerr).NotTo(HaveOccurred())
			Expect(entry.Error).To(ContainSubstring("invalid transition"))
		})

		It("keeps reconciling the healthy part of the fleet", func() {
			sim.AddInstance("broken", provider.StatusTerminated, "")

			report := runner.Run(ctx, []reconcile.Spec{
				newSpec("broken", reconcile.PowerRebooted),
				newSpec("healthy", reconcile.PowerRunning),
			})
			Expect(report.Failed()).To(HaveOccurred())
			Expect(sim.LaunchCalls).To(Equal(1))
			Expect(inv.String()).To(ContainSubstring("healthy"))
		})
	})

	Context("poll timeouts", func() {
		It("surfaces the last observed record", func() {
			sim.Frozen = true

			report := runner.Run(ctx, []reconcile.Spec{newSpec("web1", reconcile.PowerRunning)})
			err := report.Failed()
			Expect(err).To(HaveOccurred())

			var timeout *reconcile.PollTimeoutError
			Expect(errors.As(err, &timeout)).To(BeTrue())
			Expect(timeout.LastRecord).NotTo(BeNil())
			Expect(timeout.LastRecord.Status).To(Equal(provider.StatusPending))
		})
	})

	Context("cancellation", func() {
		It("reports Cancelled, never PollTimeout", func() {
			sim.Frozen = true
			poller := reconcile.NewPoller(sim, 3, 50*time.Millisecond, 50*time.Millisecond)
			rec := reconcile.New(sim, poller)
			runner = fleet.NewRunner(rec, inventory.NewWriter(inv, info), jrnl, nil, 2)

			cctx, cancel := context.WithCancel(ctx)
			go func() {
				time.Sleep(5 * time.Millisecond)
				cancel()
			}()

			report := runner.Run(cctx, []reconcile.Spec{newSpec("web1", reconcile.PowerRunning)})
			err := report.Failed()
			Expect(err).To(HaveOccurred())

			var cancelled *reconcile.CancelledError
			Expect(errors.As(err, &cancelled)).To(BeTrue())
			var timeout *reconcile.PollTimeoutError
			Expect(errors.As(err, &timeout)).To(BeFalse())
		})
	})
})
