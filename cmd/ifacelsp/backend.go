package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ifacelsp/internal/backend"
	"ifacelsp/internal/iface"
	"ifacelsp/internal/observ"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Reference analysis backends",
}

var backendServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve pre-generated interfaces over the backend protocol on stdio",
	Long: `serve speaks the backend frame protocol on stdin and stdout and answers
each request with the contents of <from>/<module><ext>. It is meant for
local testing: point ifacelsp --backend-command at this binary with
--backend-args=backend,serve,--from,DIR.`,
	Args: cobra.NoArgs,
	RunE: runBackendServe,
}

var (
	backendFrom     string
	backendExt      string
	backendLogLevel string
)

func init() {
	backendServeCmd.Flags().StringVar(&backendFrom, "from", "", "directory holding pre-generated interfaces")
	backendServeCmd.Flags().StringVar(&backendExt, "ext", iface.DefaultExt, "interface file extension")
	backendServeCmd.Flags().StringVar(&backendLogLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	_ = backendServeCmd.MarkFlagRequired("from")
	backendCmd.AddCommand(backendServeCmd)
}

func runBackendServe(cmd *cobra.Command, _ []string) error {
	info, err := os.Stat(backendFrom)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", backendFrom)
	}
	logger, err := observ.NewLogger(os.Stderr, backendLogLevel)
	if err != nil {
		return err
	}
	logger.SetPrefix("backend")
	return backend.Serve(cmd.Context(), os.Stdin, os.Stdout, backend.Directory(backendFrom, backendExt), logger)
}
