package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hearth/internal/agent"
	"hearth/internal/capture"
	"hearth/internal/connectivity"
	"hearth/internal/logging"
	"hearth/internal/uploader"
)

func newAgentCommand(ctx *commandContext) *cobra.Command {
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage the capture agent",
	}

	agentCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the capture agent in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentProcess(cmd.Context(), ctx)
		},
	})

	return agentCmd
}

func runAgentProcess(cmdCtx context.Context, ctx *commandContext) error {
	if ctx == nil {
		return fmt.Errorf("command context is required")
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

	store, err := capture.Open(cfg.CaptureDBPath())
	if err != nil {
		logger.Error("open capture store", logging.Error(err))
		return err
	}
	defer store.Close()

	client := uploader.NewClient(store, cfg, uploader.WithLogger(logger))
	monitor := connectivity.NewMonitor(logger)

	a, err := agent.New(cfg, store, client, monitor, logger)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	defer a.Stop()

	if err := a.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("hearth agent shutting down")
	return nil
}
