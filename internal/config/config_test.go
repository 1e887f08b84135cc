package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hearth/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Jobs.MaxRetries != config.DefaultJobMaxRetries {
		t.Fatalf("jobs.max_retries = %d, want default %d", cfg.Jobs.MaxRetries, config.DefaultJobMaxRetries)
	}
	if cfg.Capture.MaxRetries != config.DefaultCaptureMaxRetries {
		t.Fatalf("capture.max_retries = %d, want default %d", cfg.Capture.MaxRetries, config.DefaultCaptureMaxRetries)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `/data"

[server]
upload_url = "http://example.test/"

[jobs]
batch_size = 25

[llm]
api_key = "  sk-test  "
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Jobs.BatchSize != 25 {
		t.Fatalf("batch_size = %d, want 25", cfg.Jobs.BatchSize)
	}
	if cfg.Server.UploadURL != "http://example.test" {
		t.Fatalf("upload_url = %q, want trailing slash trimmed", cfg.Server.UploadURL)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("llm api_key = %q, want trimmed", cfg.LLM.APIKey)
	}
	if cfg.Jobs.PollIntervalSeconds != config.DefaultPollInterval {
		t.Fatalf("poll interval = %d, want default preserved", cfg.Jobs.PollIntervalSeconds)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[jobs]
batch_size = 0

[logging]
level = "verbose"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "batch_size") {
		t.Fatalf("error %q should mention batch_size", err)
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("error %q should mention logging.level", err)
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	got, err := config.ExpandPath("~/captures")
	if err != nil {
		t.Fatalf("ExpandPath: %v", err)
	}
	want := filepath.Join(home, "captures")
	if got != want {
		t.Fatalf("ExpandPath = %q, want %q", got, want)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Server.APIBind != config.DefaultAPIBind {
		t.Fatalf("sample api_bind = %q, want %q", cfg.Server.APIBind, config.DefaultAPIBind)
	}
}
