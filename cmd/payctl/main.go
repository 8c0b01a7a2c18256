// Command payctl is the operator CLI for the payflow pipeline: one-off
// maintenance runs, queue inspection and recovery of stuck issues.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "payctl",
		Short:         "Operate the payflow issue pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(maintenanceCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(issuesCmd())
	rootCmd.AddCommand(auditCmd())

	return rootCmd
}
