// Package cli wires the stride command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "stride",
	Short:   "Iteration scheduler and load engine for scenario-driven tests",
	Version: version,
	Long: `Stride drives fixed task lists through iteration after iteration for a
pool of simulated actors, enforcing pacing, retry, and restart policies
while coordinating testdata distribution and statistics collection.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command. Called by main.main().
func Execute() error {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func init() {
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(validateCmd)
}
