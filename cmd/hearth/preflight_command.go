package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hearth/internal/preflight"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check external dependencies and directory access",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, result := range results {
				status := "PASS"
				color := ansiGreen
				if !result.Passed {
					status = "FAIL"
					color = ansiRed
				}
				if colorize {
					status = color + status + ansiReset
				}
				line := fmt.Sprintf("  %-18s [%s]", result.Name+":", status)
				if result.Detail != "" {
					line += " " + result.Detail
				}
				fmt.Fprintln(out, line)
			}
			if !preflight.Passed(results) {
				return fmt.Errorf("preflight checks failed")
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}
