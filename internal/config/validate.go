package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration for invalid values. It returns an error
// describing every problem found rather than stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Server.APIBind) == "" {
		problems = append(problems, "server.api_bind must not be empty")
	}

	if c.Capture.MaxRetries < 0 {
		problems = append(problems, "capture.max_retries must not be negative")
	}
	if c.Capture.SweepIntervalSeconds <= 0 {
		problems = append(problems, "capture.sweep_interval_seconds must be positive")
	}
	if c.Capture.UploadTimeoutSeconds <= 0 {
		problems = append(problems, "capture.upload_timeout_seconds must be positive")
	}

	if c.Jobs.PollIntervalSeconds <= 0 {
		problems = append(problems, "jobs.poll_interval_seconds must be positive")
	}
	if c.Jobs.BatchSize <= 0 {
		problems = append(problems, "jobs.batch_size must be positive")
	}
	if c.Jobs.MaxRetries < 0 {
		problems = append(problems, "jobs.max_retries must not be negative")
	}
	if c.Jobs.BackoffBaseSeconds <= 0 {
		problems = append(problems, "jobs.backoff_base_seconds must be positive")
	}
	if c.Jobs.StaleJobTimeoutSeconds <= 0 {
		problems = append(problems, "jobs.stale_job_timeout_seconds must be positive")
	}
	if c.Jobs.RetentionDays < 0 {
		problems = append(problems, "jobs.retention_days must not be negative")
	}
	if c.Jobs.HandlerTimeoutSeconds <= 0 {
		problems = append(problems, "jobs.handler_timeout_seconds must be positive")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q must be debug, info, warn, or error", c.Logging.Level))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
