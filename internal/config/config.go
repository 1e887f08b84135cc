package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration shared by the agent and daemon.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	MediaDir string `toml:"media_dir"`
	LogDir   string `toml:"log_dir"`
}

// Server contains the ingest API settings. APIBind is where the daemon
// listens; UploadURL is where the agent sends captures.
type Server struct {
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
	UploadURL string `toml:"upload_url"`
}

// Capture contains settings for the local capture queue and uploader.
type Capture struct {
	MaxRetries           int `toml:"max_retries"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	UploadTimeoutSeconds int `toml:"upload_timeout_seconds"`
}

// Jobs contains settings for the server-side job store and dispatcher.
type Jobs struct {
	PollIntervalSeconds       int `toml:"poll_interval_seconds"`
	BatchSize                 int `toml:"batch_size"`
	MaxRetries                int `toml:"max_retries"`
	BackoffBaseSeconds        int `toml:"backoff_base_seconds"`
	ErrorRetryIntervalSeconds int `toml:"error_retry_interval_seconds"`
	StaleJobTimeoutSeconds    int `toml:"stale_job_timeout_seconds"`
	RetentionDays             int `toml:"retention_days"`
	HandlerTimeoutSeconds     int `toml:"handler_timeout_seconds"`
}

// Speech contains configuration for the speech-to-text service.
type Speech struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LLM contains shared language-model connection settings used by the
// analysis, match-scoring, and report handlers.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Email contains configuration for the outbound email service. An empty
// endpoint disables email delivery entirely.
type Email struct {
	Endpoint       string `toml:"endpoint"`
	APIKey         string `toml:"api_key"`
	From           string `toml:"from"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Hearth.
//
// Configuration sections by subsystem:
//   - Paths: data, media, and log directories
//   - Server: ingest API bind address, token, and agent upload URL
//   - Capture: local capture queue retry and sweep settings
//   - Jobs: dispatcher polling, retry, and retention settings
//   - Speech: speech-to-text service connection
//   - LLM: language-model connection shared by analysis handlers
//   - Email: outbound report delivery
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Server  Server  `toml:"server"`
	Capture Capture `toml:"capture"`
	Jobs    Jobs    `toml:"jobs"`
	Speech  Speech  `toml:"speech"`
	LLM     LLM     `toml:"llm"`
	Email   Email   `toml:"email"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/hearth/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("hearth.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for agent and daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.MediaDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CaptureDBPath returns the location of the local capture queue database.
func (c *Config) CaptureDBPath() string {
	return filepath.Join(c.Paths.DataDir, "capture.db")
}

// JobsDBPath returns the location of the server-side job and record database.
func (c *Config) JobsDBPath() string {
	return filepath.Join(c.Paths.DataDir, "hearth.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
