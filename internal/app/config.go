package app

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	WorkerCommand  string `yaml:"worker_command"`
	WorkerScript   string `yaml:"worker_script"`
	ModelPath      string `yaml:"model_path"`
	StartupTimeout int    `yaml:"startup_timeout_sec"`

	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	TopP              float64 `yaml:"top_p"`
	TopK              int     `yaml:"top_k"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`

	GuardBufferCap    int    `yaml:"guard_buffer_cap"`
	GuardThreshold    int    `yaml:"guard_threshold"`
	GuardMaxChars     int    `yaml:"guard_max_chars"`
	MaxPlanSteps      int    `yaml:"max_plan_steps"`
	CommandTimeoutSec int    `yaml:"command_timeout_sec"`
	ConversationPath  string `yaml:"conversation_path"`
}

func DefaultConfig() Config {
	return Config{
		WorkerCommand:     "python3",
		WorkerScript:      "mlx_inference.py",
		StartupTimeout:    30,
		MaxTokens:         2048,
		Temperature:       0.7,
		TopP:              0.9,
		TopK:              40,
		RepetitionPenalty: 1.0,
		GuardBufferCap:    2000,
		GuardThreshold:    3,
		GuardMaxChars:     60000,
		MaxPlanSteps:      12,
		CommandTimeoutSec: 30,
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.WorkerCommand == "" {
		cfg.WorkerCommand = "python3"
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		cfg.Temperature = 0.7
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 0.9
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.RepetitionPenalty <= 0 {
		cfg.RepetitionPenalty = 1.0
	}
	if cfg.GuardBufferCap <= 0 {
		cfg.GuardBufferCap = 2000
	}
	if cfg.GuardThreshold < 2 {
		cfg.GuardThreshold = 3
	}
	if cfg.GuardMaxChars <= 0 {
		cfg.GuardMaxChars = 60000
	}
	if cfg.MaxPlanSteps <= 0 {
		cfg.MaxPlanSteps = 12
	}
	if cfg.MaxPlanSteps > 50 {
		cfg.MaxPlanSteps = 50
	}
	if cfg.CommandTimeoutSec <= 0 {
		cfg.CommandTimeoutSec = 30
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "mlxcode", "config.yml")
}

// Sampling returns the sampling parameters a generation request should use
// when the caller does not override them.
func (c Config) Sampling() SamplingParams {
	return SamplingParams{
		MaxTokens:         c.MaxTokens,
		Temperature:       c.Temperature,
		TopP:              c.TopP,
		TopK:              c.TopK,
		RepetitionPenalty: c.RepetitionPenalty,
	}
}

func (c Config) StartupTimeoutDuration() time.Duration {
	return time.Duration(c.StartupTimeout) * time.Second
}
