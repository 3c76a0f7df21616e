package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	version = "dev" // Will be set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "anthocnet-sim",
	Short: "AntHocNet routing engine simulator",
	Long: `anthocnet-sim runs AntHocNet routing scenarios in-process: several
routing engines are wired over a simulated lossy medium, driven by a
declarative YAML scenario with topology, link events and traffic streams.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}

// Commands are defined in separate files:
// - runCmd in run.go
// - configCmd in configcmd.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
