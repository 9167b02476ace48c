package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"ifacelsp/internal/backend"
	"ifacelsp/internal/compileargs"
	"ifacelsp/internal/config"
	"ifacelsp/internal/coordinator"
	"ifacelsp/internal/iface"
	"ifacelsp/internal/lsp"
	"ifacelsp/internal/observ"
	"ifacelsp/internal/prof"
	"ifacelsp/internal/version"
)

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run the interface language server over stdio",
	RunE:  runLSP,
}

var profOpts prof.Options

func init() {
	config.RegisterFlags(lspCmd.Flags())
	lspCmd.Flags().StringVar(&profOpts.CPU, "cpu-profile", "", "write a CPU profile of the session to this file")
	lspCmd.Flags().StringVar(&profOpts.Mem, "mem-profile", "", "write a heap profile to this file on exit")
	lspCmd.Flags().StringVar(&profOpts.Trace, "runtime-trace", "", "write a runtime trace of the session to this file")
}

func runLSP(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.New(), cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := observ.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.File != "" {
		logger.Debug("loaded config", "file", cfg.File)
	}

	session, err := prof.Start(profOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Stop(); err != nil {
			logger.Warn("profiling", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	proc, err := backend.StartProcess(ctx, backend.ProcessOptions{
		Command:       cfg.BackendCommand,
		Args:          cfg.BackendArgs,
		Logger:        logger.WithPrefix("backend"),
		ShutdownGrace: cfg.ShutdownGrace,
	})
	if err != nil {
		return fmt.Errorf("start backend: %w", err)
	}
	defer func() {
		if err := proc.Close(); err != nil {
			logger.Warn("backend shutdown", "err", err)
		}
	}()

	resolver, err := compileargs.NewResolver(cfg.WatchManifests, logger.WithPrefix("manifest"))
	if err != nil {
		return err
	}
	defer resolver.Close()
	go func() {
		if err := resolver.Run(ctx); err != nil {
			logger.Warn("manifest watcher stopped", "err", err)
		}
	}()

	materializer := iface.NewMaterializer(cfg.InterfacesDir, cfg.InterfaceExt)
	coord := coordinator.New(coordinator.Options{
		Backend:     proc,
		Persister:   materializer,
		Args:        resolver,
		MaxInflight: cfg.MaxInflight,
		Logger:      logger,
	})
	defer coord.Close()

	logger.Info("serving", "interfaces", materializer.Dir(), "backend", cfg.BackendCommand)
	server := lsp.NewServer(os.Stdin, os.Stdout, lsp.ServerOptions{
		Interfaces: coord,
		Logger:     logger,
		Trace:      cfg.Trace,
		Version:    version.Current().Version,
	})
	return exitStatus(server.Run(ctx), logger)
}

func exitStatus(err error, logger *log.Logger) error {
	switch {
	case err == nil, errors.Is(err, lsp.ErrExit):
		return nil
	case errors.Is(err, lsp.ErrExitWithoutShutdown):
		logger.Warn("client exited without shutdown")
		return fmt.Errorf("lsp exit without shutdown")
	default:
		return err
	}
}
