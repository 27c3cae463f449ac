package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cloudherd",
	Short: "Reconcile cloud instances against a declared desired state",
	Long: `cloudherd drives compute instances through their lifecycle by
diffing a declared fleet manifest against the provider's observed
state and applying the minimal action: launch, start, stop, reboot,
terminate, or nothing at all. Repeated invocations are idempotent.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
