package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloudherd/internal/config"
	"cloudherd/internal/fleet"
	"cloudherd/internal/logging"
	"cloudherd/internal/reconcile"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	terminateManifest string
	terminateName     string
)

// terminateCmd represents the terminate command
var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Terminate one instance or the whole fleet",
	Long: `Force the desired state of the selected manifest entries to
terminated and reconcile. Security boundaries are left in place;
only instances are destroyed.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		manifestPath := terminateManifest
		if manifestPath == "" {
			manifestPath = cfg.ManifestPath
		}
		manifest, err := fleet.LoadManifest(manifestPath, cfg.Defaults)
		if err != nil {
			logging.Logger().Fatal("Failed to load manifest", zap.Error(err))
		}

		specs := make([]reconcile.Spec, 0, len(manifest.Specs))
		for _, spec := range manifest.Specs {
			if terminateName != "" && spec.Name != terminateName {
				continue
			}
			spec.Desired = reconcile.PowerTerminated
			spec.ProbeURL = ""
			specs = append(specs, spec)
		}
		if len(specs) == 0 {
			logging.Logger().Fatal("No manifest entry matches", zap.String("name", terminateName))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		prov, err := newProvider(ctx, cfg)
		if err != nil {
			logging.Logger().Fatal("Failed to create provider", zap.Error(err))
		}

		jrnl, err := newJournal(cfg)
		if err != nil {
			logging.Logger().Fatal("Failed to open journal", zap.Error(err))
		}
		defer jrnl.Close()

		// No artifact writer: terminated instances have no inventory entry.
		runner := fleet.NewRunner(newReconciler(prov, cfg), nil, jrnl, nil, cfg.MaxParallel)
		report := runner.Run(ctx, specs)

		for _, o := range report.Outcomes {
			if o.Err != nil {
				fmt.Printf("%s: FAILED: %v\n", o.Spec.Name, o.Err)
				continue
			}
			fmt.Printf("%s: %s (status %s)\n", o.Spec.Name, o.Result.Action, o.Result.FinalStatus)
		}

		if err := report.Failed(); err != nil {
			os.Exit(exitCode(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(terminateCmd)

	terminateCmd.Flags().StringVarP(&terminateManifest, "manifest", "f", "", "Path to fleet manifest YAML file")
	terminateCmd.Flags().StringVar(&terminateName, "name", "", "Terminate only this instance name")
}
