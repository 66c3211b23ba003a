package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"m8flash/internal/app"
	"m8flash/internal/logging"
	"m8flash/internal/preflight"
	"m8flash/internal/transport"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the shell bridge until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx, bind, watch)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to bridge.bind)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Start the device watcher without waiting for a shell")
	return cmd
}

func runServe(cmdCtx context.Context, ctx *commandContext, bind string, watch bool) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{
			Dir:     cfg.Paths.LogDir,
			Pattern: "*.log",
			Keep:    []string{filepath.Join(cfg.Paths.LogDir, logging.LogFileName)},
		},
	)

	for _, result := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "related features may not work"),
		)
	}

	a, closeStore, err := app.Build(signalCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer closeStore()

	if err := a.Start(signalCtx); err != nil {
		return err
	}
	defer a.Stop()

	if watch {
		a.Watcher().Start(a.Context(), a.Bridge())
	}

	addr := strings.TrimSpace(bind)
	if addr == "" {
		addr = cfg.Bridge.Bind
	}
	server := transport.NewServer(a.Context(), a.Store(), a.Bridge(), transport.Options{
		Token:          cfg.Bridge.Token,
		AllowedOrigins: cfg.Bridge.AllowedOrigins,
		Logger:         logger,
	})
	if err := server.ListenAndServe(signalCtx, addr); err != nil {
		return err
	}
	logger.Info("m8flash shutting down")
	return nil
}
