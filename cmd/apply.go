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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	applyManifest string
	applyAppend   bool
)

// applyCmd represents the apply command
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Reconcile the fleet manifest against the provider",
	Long: `Load the fleet manifest, diff each instance's desired state against
the provider's observed state, and apply the minimal action per
instance. Running the same manifest twice is a no-op.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		manifestPath := applyManifest
		if manifestPath == "" {
			manifestPath = cfg.ManifestPath
		}
		manifest, err := fleet.LoadManifest(manifestPath, cfg.Defaults)
		if err != nil {
			logging.Logger().Fatal("Failed to load manifest", zap.Error(err))
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

		writer, closeSinks, err := openSinks(cfg, applyAppend)
		if err != nil {
			logging.Logger().Fatal("Failed to open artifact sinks", zap.Error(err))
		}
		defer closeSinks()

		runner := fleet.NewRunner(newReconciler(prov, cfg), writer, jrnl, newProber(), cfg.MaxParallel)
		report := runner.Run(ctx, manifest.Specs)

		for _, o := range report.Outcomes {
			if o.Err != nil {
				fmt.Printf("%s: FAILED: %v\n", o.Spec.Name, o.Err)
				continue
			}
			line := fmt.Sprintf("%s: %s (status %s", o.Spec.Name, o.Result.Action, o.Result.FinalStatus)
			if o.Result.PublicAddress != "" {
				line += ", " + o.Result.PublicAddress
			}
			fmt.Println(line + ")")
		}

		if err := report.Failed(); err != nil {
			os.Exit(exitCode(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringVarP(&applyManifest, "manifest", "f", "", "Path to fleet manifest YAML file")
	applyCmd.Flags().BoolVar(&applyAppend, "append", false, "Append to artifact files instead of rewriting them")
}
