// Package cmd implements the guardbook CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	configPath string
	tenantFlag string
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "guardbook",
	Short: "Compliance notification scheduling engine",
	Long: "guardbook schedules compliance checks for recurring operational\n" +
		"checklists and escalates per location when a required report was not filed.",
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.guardbook/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&tenantFlag, "tenant", "", "tenant id")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(triggerCmd)
}
