package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfgFile is the --config flag; empty means built-in defaults.
var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "windrose",
	Short: "Windrose - multi-cloud run orchestrator",
	Long: `Windrose runs containerized workloads across cloud backends and
on-prem machines, reusing pooled instances before provisioning new
ones, delivered as a single binary over an embedded store.

Start the orchestrator with "windrose server"; submit and inspect work
with the run and pool commands against the same data directory.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Windrose version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Server configuration file")

	// Add subcommands
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(poolCmd)
}
