package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"hearth/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage the server job queue",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsCleanupCommand(ctx))

	return jobsCmd
}

func (c *commandContext) withJobStore(fn func(*jobs.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := jobs.Open(cfg.JobsDBPath())
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]jobs.Status, 0, len(listStatuses))
			for _, raw := range listStatuses {
				status, err := jobs.ParseStatus(raw)
				if err != nil {
					return err
				}
				statuses = append(statuses, status)
			}
			return ctx.withJobStore(func(store *jobs.Store) error {
				list, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No matching jobs")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, job := range list {
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						string(job.Type),
						string(job.Status),
						fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
						formatTime(job.RunAt),
						truncate(job.ErrorMessage, 48),
					})
				}
				columns := []column{
					{title: "ID", right: true},
					{title: "Type"},
					{title: "Status"},
					{title: "Retries", right: true},
					{title: "Run At"},
					{title: "Error"},
				}
				fmt.Fprintln(out, renderTable(columns, rows))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (pending, running, completed, failed)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show full detail for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withJobStore(func(store *jobs.Store) error {
				job, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", id)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:          %d\n", job.ID)
				fmt.Fprintf(out, "Type:        %s\n", job.Type)
				fmt.Fprintf(out, "Status:      %s\n", job.Status)
				fmt.Fprintf(out, "Retries:     %d/%d\n", job.RetryCount, job.MaxRetries)
				fmt.Fprintf(out, "Run at:      %s\n", formatTime(job.RunAt))
				fmt.Fprintf(out, "Created at:  %s\n", formatTime(job.CreatedAt))
				if job.StartedAt != nil {
					fmt.Fprintf(out, "Started at:  %s\n", formatTime(*job.StartedAt))
				}
				if job.CompletedAt != nil {
					fmt.Fprintf(out, "Finished at: %s\n", formatTime(*job.CompletedAt))
				}
				fmt.Fprintf(out, "Payload:     %s\n", string(job.Payload))
				if job.Result != "" {
					fmt.Fprintf(out, "Result:      %s\n", job.Result)
				}
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:       %s\n", job.ErrorMessage)
				}
				return nil
			})
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id]",
		Short: "Retry a failed job, or all failed jobs when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobStore(func(store *jobs.Store) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					count, err := store.RetryFailed(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Requeued %d failed job(s)\n", count)
					return nil
				}
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", args[0])
				}
				retried, err := store.Retry(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !retried {
					return fmt.Errorf("job %d is not failed", id)
				}
				fmt.Fprintf(out, "Requeued job %d\n", id)
				return nil
			})
		},
	}
}

func newJobsCleanupCommand(ctx *commandContext) *cobra.Command {
	var olderThanDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete terminal jobs older than a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThanDays <= 0 {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				olderThanDays = cfg.Jobs.RetentionDays
			}
			if olderThanDays <= 0 {
				return fmt.Errorf("retention window must be positive; pass --older-than-days")
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
			return ctx.withJobStore(func(store *jobs.Store) error {
				count, err := store.DeleteOlderThan(cmd.Context(), cutoff, jobs.StatusCompleted, jobs.StatusFailed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d job(s) finished before %s\n", count, cutoff.Format("2006-01-02"))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 0, "Delete terminal jobs finished more than this many days ago")
	return cmd
}
