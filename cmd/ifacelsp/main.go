package main

import (
	"os"

	"github.com/spf13/cobra"

	"ifacelsp/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "ifacelsp",
	Short: "Language server that opens generated module interfaces",
	Long: `ifacelsp answers textDocument/openInterface requests by asking an
analysis backend for the textual interface of a module, writing it to disk
and returning its location.`,
	SilenceUsage: true,
}

// main registers the subcommands and runs the root command, exiting with
// status 1 on error.
func main() {
	rootCmd.Version = version.Current().Version

	rootCmd.AddCommand(lspCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(backendCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
