package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"hearth/internal/capture"
)

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	captureCmd := &cobra.Command{
		Use:   "capture",
		Short: "Inspect and manage the local capture outbox",
	}

	captureCmd.AddCommand(newCaptureStatsCommand(ctx))
	captureCmd.AddCommand(newCaptureListCommand(ctx))
	captureCmd.AddCommand(newCaptureRetryCommand(ctx))
	captureCmd.AddCommand(newCaptureAddCommand(ctx))

	return captureCmd
}

func (c *commandContext) withCaptureStore(fn func(*capture.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := capture.Open(cfg.CaptureDBPath())
	if err != nil {
		return fmt.Errorf("open capture store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func newCaptureStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show outbox status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCaptureStore(func(store *capture.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if stats.Total() == 0 {
					fmt.Fprintln(out, "Outbox is empty")
					return nil
				}
				rows := [][]string{
					{"pending", strconv.Itoa(stats.Pending)},
					{"uploading", strconv.Itoa(stats.Uploading)},
					{"failed", strconv.Itoa(stats.Failed)},
				}
				columns := []column{{title: "Status"}, {title: "Count", right: true}}
				fmt.Fprintln(out, renderTable(columns, rows))
				fmt.Fprintf(out, "Total size: %s\n", formatBytes(stats.TotalBytes))
				return nil
			})
		},
	}
}

func newCaptureListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued capture artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]capture.Status, 0, len(listStatuses))
			for _, raw := range listStatuses {
				status, err := capture.ParseStatus(raw)
				if err != nil {
					return err
				}
				statuses = append(statuses, status)
			}
			return ctx.withCaptureStore(func(store *capture.Store) error {
				artifacts, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(artifacts) == 0 {
					fmt.Fprintln(out, "No matching artifacts")
					return nil
				}
				rows := make([][]string, 0, len(artifacts))
				for _, artifact := range artifacts {
					rows = append(rows, []string{
						artifact.ID,
						artifact.VisitID,
						string(artifact.Kind),
						string(artifact.Status),
						strconv.Itoa(artifact.RetryCount),
						formatBytes(artifact.SizeBytes),
						formatTime(artifact.CreatedAt),
						truncate(artifact.LastError, 40),
					})
				}
				columns := []column{
					{title: "ID"},
					{title: "Visit"},
					{title: "Kind"},
					{title: "Status"},
					{title: "Retries", right: true},
					{title: "Size", right: true},
					{title: "Created"},
					{title: "Last Error"},
				}
				fmt.Fprintln(out, renderTable(columns, rows))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (pending, uploading, failed)")
	return cmd
}

func newCaptureRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset failed artifacts to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCaptureStore(func(store *capture.Store) error {
				count, err := store.RetryFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d artifact(s) to pending\n", count)
				return nil
			})
		},
	}
}

func newCaptureAddCommand(ctx *commandContext) *cobra.Command {
	var visitID string
	var kind string
	var label string
	var mimeType string
	var duration float64

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Queue a media file for upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			payload, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read media file: %w", err)
			}
			parsedKind, err := capture.ParseKind(kind)
			if err != nil {
				return err
			}
			mime := mimeType
			if mime == "" {
				mime = mimeForExtension(filepath.Base(path))
			}
			return ctx.withCaptureStore(func(store *capture.Store) error {
				artifact, err := store.Save(cmd.Context(), capture.NewArtifact{
					VisitID:         visitID,
					Kind:            parsedKind,
					Label:           label,
					MimeType:        mime,
					DurationSeconds: duration,
					Payload:         payload,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%s, %s)\n", artifact.ID, artifact.Kind, formatBytes(artifact.SizeBytes))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&visitID, "visit", "", "Visit the capture belongs to")
	cmd.Flags().StringVar(&kind, "kind", string(capture.KindVoice), "Capture kind (voice or photo)")
	cmd.Flags().StringVar(&label, "label", "", "Optional display label")
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type (derived from the file extension when omitted)")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Recording length in seconds")
	_ = cmd.MarkFlagRequired("visit")
	return cmd
}
