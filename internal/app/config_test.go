package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	if cfg != want {
		t.Errorf("cfg = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadConfig_OverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `worker_command: python3.12
model_path: /models/qwen
max_tokens: 4096
temperature: 0.2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.WorkerCommand != "python3.12" {
		t.Errorf("worker_command = %q", cfg.WorkerCommand)
	}
	if cfg.ModelPath != "/models/qwen" {
		t.Errorf("model_path = %q", cfg.ModelPath)
	}
	if cfg.MaxTokens != 4096 {
		t.Errorf("max_tokens = %d", cfg.MaxTokens)
	}
	if cfg.Temperature != 0.2 {
		t.Errorf("temperature = %v", cfg.Temperature)
	}
	// Unset keys keep their defaults.
	if cfg.TopP != 0.9 || cfg.MaxPlanSteps != 12 || cfg.WorkerScript != "mlx_inference.py" {
		t.Errorf("defaults lost: top_p=%v max_plan_steps=%d worker_script=%q", cfg.TopP, cfg.MaxPlanSteps, cfg.WorkerScript)
	}
}

func TestLoadConfig_ClampsOutOfRangeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `temperature: 9.5
top_p: 1.7
max_tokens: -1
guard_threshold: 1
max_plan_steps: 500
startup_timeout_sec: 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Temperature != 0.7 {
		t.Errorf("temperature = %v, want clamped to 0.7", cfg.Temperature)
	}
	if cfg.TopP != 0.9 {
		t.Errorf("top_p = %v, want clamped to 0.9", cfg.TopP)
	}
	if cfg.MaxTokens != 2048 {
		t.Errorf("max_tokens = %d, want clamped to 2048", cfg.MaxTokens)
	}
	if cfg.GuardThreshold != 3 {
		t.Errorf("guard_threshold = %d, want clamped to 3", cfg.GuardThreshold)
	}
	if cfg.MaxPlanSteps != 50 {
		t.Errorf("max_plan_steps = %d, want capped at 50", cfg.MaxPlanSteps)
	}
	if cfg.StartupTimeoutDuration() != 30*time.Second {
		t.Errorf("startup timeout = %s, want 30s", cfg.StartupTimeoutDuration())
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("worker_command: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Errorf("LoadConfig succeeded on malformed yaml")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	cfg := DefaultConfig()
	cfg.ModelPath = "/models/local"
	cfg.MaxTokens = 1024

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded != cfg {
		t.Errorf("round trip changed config: %+v != %+v", loaded, cfg)
	}
}

func TestConfig_Sampling(t *testing.T) {
	cfg := DefaultConfig()
	params := cfg.Sampling()
	if params.MaxTokens != cfg.MaxTokens || params.Temperature != cfg.Temperature ||
		params.TopP != cfg.TopP || params.TopK != cfg.TopK || params.RepetitionPenalty != cfg.RepetitionPenalty {
		t.Errorf("Sampling() = %+v does not mirror config %+v", params, cfg)
	}
}
