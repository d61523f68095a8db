package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Tasks.Parallelism != 4 {
		t.Errorf("default W = %d", cfg.Tasks.Parallelism)
	}
}

func TestLoadFileWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fathom.yaml")
	content := `
server:
  addr: 127.0.0.1:6000
model:
  model: gpt-4o-mini
  turn_timeout: 30s
tasks:
  parallelism: 2
session:
  history_window: 10
cron:
  - id: nightly
    schedule: "0 0 3 * * *"
    agent_id: a1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv(EnvAPIKey, "sk-test")
	t.Setenv(EnvTaskParallelism, "7")
	t.Setenv(EnvWorkspaceRoot, dir)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:6000" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Model.Model != "gpt-4o-mini" || cfg.Model.TurnTimeout != 30*time.Second {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Tasks.Parallelism != 7 {
		t.Errorf("env override lost: W = %d", cfg.Tasks.Parallelism)
	}
	if cfg.Workspace.Root != dir {
		t.Errorf("workspace = %s", cfg.Workspace.Root)
	}
	if cfg.Model.APIKey != "sk-test" {
		t.Errorf("api key not read from env")
	}
	if len(cfg.Cron) != 1 || cfg.Cron[0].ID != "nightly" {
		t.Errorf("cron = %+v", cfg.Cron)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Tasks.Parallelism = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero parallelism accepted")
	}

	cfg = Default()
	cfg.Cron = []CronRule{{ID: "a", Schedule: "* * * * * *"}, {ID: "a", Schedule: "* * * * * *"}}
	if err := cfg.Validate(); err == nil {
		t.Error("duplicate cron ids accepted")
	}

	cfg = Default()
	cfg.Heartbeat.Enabled = true
	cfg.Heartbeat.Interval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("enabled heartbeat without interval accepted")
	}
}

func TestMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing explicit config file accepted")
	}
}
