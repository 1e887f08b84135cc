package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hearth/internal/daemon"
	"hearth/internal/jobs"
	"hearth/internal/logging"
	"hearth/internal/pipeline"
	"hearth/internal/records"
	"hearth/internal/server"
	"hearth/internal/services/llm"
	"hearth/internal/services/mailer"
	"hearth/internal/services/speech"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the processing daemon",
	}

	daemonCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the processing daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	})

	return daemonCmd
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
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

	var storeOpts []jobs.StoreOption
	if cfg.Jobs.BackoffBaseSeconds > 0 {
		storeOpts = append(storeOpts, jobs.WithBackoffBase(time.Duration(cfg.Jobs.BackoffBaseSeconds)*time.Second))
	}
	store, err := jobs.Open(cfg.JobsDBPath(), storeOpts...)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	recordStore := records.NewStore(store.DB())

	transcriber := speech.NewClient(speech.Config{
		BaseURL:        cfg.Speech.BaseURL,
		APIKey:         cfg.Speech.APIKey,
		Model:          cfg.Speech.Model,
		TimeoutSeconds: cfg.Speech.TimeoutSeconds,
	})
	completer := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
	mail := mailer.NewService(cfg)

	var dispatcherOpts []jobs.DispatcherOption
	if cfg.Jobs.HandlerTimeoutSeconds > 0 {
		dispatcherOpts = append(dispatcherOpts, jobs.WithHandlerTimeout(time.Duration(cfg.Jobs.HandlerTimeoutSeconds)*time.Second))
	}
	dispatcher := jobs.NewDispatcher(store, logger, dispatcherOpts...)
	pipeline.Register(dispatcher, pipeline.Services{
		Records:     recordStore,
		Transcriber: transcriber,
		Completer:   completer,
		Mailer:      mail,
		Enqueuer:    store,
		Logger:      logger,
	})

	api := server.New(cfg, store, recordStore, logger)

	d, err := daemon.New(cfg, store, dispatcher, api, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Stop()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("hearth daemon shutting down")
	return nil
}
