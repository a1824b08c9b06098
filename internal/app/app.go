package app

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// Application owns the explicitly constructed component graph: one bridge,
// one session, one registry, one planner. Nothing is reachable through
// implicit global lookup.
type Application struct {
	Config   Config
	Logger   *Logger
	Bridge   *WorkerBridge
	Session  *GenerationSession
	Registry *ToolRegistry
	Planner  *TaskPlanner
	Runner   *Runner
	Jobs     *JobStore

	mock bool
}

func NewApplication(cfg Config, mockMode bool) (*Application, error) {
	logger := NewLogger(DefaultLogWriter())

	jobPath := filepath.Join(os.TempDir(), "mlxcode", "jobs.json")
	jobStore, err := NewJobStore(jobPath)
	if err != nil {
		return nil, err
	}
	jobRoot := filepath.Join(os.TempDir(), "mlxcode", "logs")
	runner := NewRunner(logger, jobRoot)

	registry := NewToolRegistry()
	RegisterBuiltinTools(registry, runner, jobStore, time.Duration(cfg.CommandTimeoutSec)*time.Second)

	guardCfg := DefaultGuardConfig()
	guardCfg.BufferCap = cfg.GuardBufferCap
	guardCfg.Threshold = cfg.GuardThreshold
	guardCfg.MaxChars = cfg.GuardMaxChars

	app := &Application{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Runner:   runner,
		Jobs:     jobStore,
		mock:     mockMode,
	}

	var gen Generator
	if mockMode {
		gen = NewMockGenerator()
	} else {
		bridge := NewWorkerBridge(cfg.WorkerCommand, []string{cfg.WorkerScript, "--mode", "interactive"}, cfg.StartupTimeoutDuration(), logger)
		session := NewGenerationSession(bridge, guardCfg, logger)
		app.Bridge = bridge
		app.Session = session
		gen = session
	}

	stateDir := filepath.Join(os.TempDir(), "mlxcode", "runs")
	app.Planner = NewTaskPlanner(gen, registry, logger, cfg.Sampling(), stateDir)
	app.Planner.MaxSteps = cfg.MaxPlanSteps

	return app, nil
}

// StartWorker spawns the inference worker and loads the configured model.
// In mock mode it is a no-op.
func (a *Application) StartWorker(ctx context.Context) error {
	if a.mock || a.Bridge == nil {
		return nil
	}
	if err := a.Bridge.Start(ctx); err != nil {
		return err
	}
	if a.Config.ModelPath != "" {
		if err := a.Bridge.LoadModel(ctx, a.Config.ModelPath); err != nil {
			a.Bridge.Terminate()
			return err
		}
	}
	return nil
}

// StopWorker releases the model weights, then shuts the worker down cleanly.
func (a *Application) StopWorker() {
	if a.Bridge == nil {
		return
	}
	if a.Config.ModelPath != "" && a.Bridge.State() == WorkerReady {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.Bridge.UnloadModel(ctx)
		cancel()
	}
	a.Bridge.Shutdown()
}

// Generator returns the active text generator (real session or mock).
func (a *Application) Generator() Generator {
	return a.Planner.Gen
}

func (a *Application) MockMode() bool {
	return a.mock
}
