package cmd

import (
	"context"
	"fmt"
	"os"

	"cloudherd/internal/config"
	"cloudherd/internal/fleet"
	"cloudherd/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statusManifest string

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the provider's observed state for each manifest entry",
	Long: `Describe every instance named in the fleet manifest and print its
observed status. Read-only: no action is computed or applied.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		manifestPath := statusManifest
		if manifestPath == "" {
			manifestPath = cfg.ManifestPath
		}
		manifest, err := fleet.LoadManifest(manifestPath, cfg.Defaults)
		if err != nil {
			logging.Logger().Fatal("Failed to load manifest", zap.Error(err))
		}

		ctx := context.Background()
		prov, err := newProvider(ctx, cfg)
		if err != nil {
			logging.Logger().Fatal("Failed to create provider", zap.Error(err))
		}

		var failed error
		for _, spec := range manifest.Specs {
			rec, err := prov.FindInstanceByTag(ctx, spec.Name)
			if err != nil {
				fmt.Printf("%s: error: %v\n", spec.Name, err)
				failed = err
				continue
			}
			if rec == nil {
				fmt.Printf("%s: absent (desired %s)\n", spec.Name, spec.Desired)
				continue
			}
			line := fmt.Sprintf("%s: %s [%s]", spec.Name, rec.Status, rec.ProviderID)
			if rec.PublicAddress != "" {
				line += " " + rec.PublicAddress
			}
			fmt.Println(line)
		}

		if failed != nil {
			os.Exit(exitCode(failed))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusManifest, "manifest", "f", "", "Path to fleet manifest YAML file")
}
