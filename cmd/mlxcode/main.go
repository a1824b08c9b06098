package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	tea "github.com/charmbracelet/bubbletea"

	"mlxcode/internal/app"
	"mlxcode/internal/tui"
)

const version = "1.0.0"

func main() {
	var (
		configPath string
		workerCmd  string
		workerPath string
		modelPath  string
		mockMode   bool
		noTUI      bool
	)

	root := &cobra.Command{
		Use:     "mlxcode",
		Short:   "mlxcode - local-inference coding assistant",
		Long:    "mlxcode drives a local MLX inference worker and automates multi-step coding tasks with structured tool calls.",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", app.DefaultConfigPath(), "path to config file")
	root.PersistentFlags().StringVar(&workerCmd, "worker-command", "", "interpreter for the inference worker (default python3)")
	root.PersistentFlags().StringVar(&workerPath, "worker", "", "path to the inference worker script")
	root.PersistentFlags().StringVar(&modelPath, "model", "", "path to the MLX model directory")
	root.PersistentFlags().BoolVar(&mockMode, "mock", false, "run without a real worker (canned responses)")
	root.PersistentFlags().BoolVarP(&noTUI, "no-tui", "n", false, "plain progress output instead of the TUI")

	loadApp := func() (*app.Application, error) {
		cfg, err := app.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		if workerCmd != "" {
			cfg.WorkerCommand = workerCmd
		}
		if workerPath != "" {
			cfg.WorkerScript = workerPath
		}
		if modelPath != "" {
			cfg.ModelPath = modelPath
		}
		if cfg.ModelPath == "" {
			cfg.ModelPath = os.Getenv("MLXCODE_MODEL")
		}
		return app.NewApplication(cfg, mockMode)
	}

	runCmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Plan and execute a multi-step task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			application, err := loadApp()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			if err := application.StartWorker(ctx); err != nil {
				return err
			}
			defer application.StopWorker()

			if noTUI {
				application.Planner.Progress = func(ev app.ProgressEvent) {
					if ev.StepTotal > 0 {
						fmt.Printf("[%s] (%d/%d) %s\n", ev.Kind, ev.StepIndex, ev.StepTotal, ev.Text)
					} else {
						fmt.Printf("[%s] %s\n", ev.Kind, ev.Text)
					}
				}
				summary, err := application.Planner.Run(ctx, task)
				if err != nil {
					return err
				}
				fmt.Println()
				fmt.Println(summary)
				return nil
			}

			program := tea.NewProgram(tui.NewProgressModel(task))
			application.Planner.Progress = func(ev app.ProgressEvent) {
				program.Send(tui.EventMsg{Event: ev})
			}
			go func() {
				summary, err := application.Planner.Run(ctx, task)
				program.Send(tui.ResultMsg{Summary: summary, Err: err})
			}()
			_, err = program.Run()
			return err
		},
	}

	generateCmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Stream one generation from the worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			application, err := loadApp()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			if err := application.StartWorker(ctx); err != nil {
				return err
			}
			defer application.StopWorker()

			store := app.NewConversationStore(conversationPath(application.Config))
			history, err := store.History()
			if err != nil {
				return err
			}
			messages := append(history, app.ChatMessage{Role: "user", Content: prompt})

			req := app.GenerationRequest{
				Messages: messages,
				Params:   application.Config.Sampling(),
			}
			onToken := func(token string) {
				fmt.Print(token)
			}

			var state *app.GenerationState
			if application.Session != nil {
				// The real worker emits percentage hints before the first
				// token; surface them on stderr, away from the token stream.
				state, err = application.Session.GenerateWithProgress(ctx, req, onToken, func(p float64) {
					fmt.Fprintf(os.Stderr, "\rprogress: %3.0f%%", p*100)
				})
			} else {
				state, err = application.Generator().Generate(ctx, req, onToken)
			}
			fmt.Println()
			if err != nil {
				return err
			}

			_ = store.Append("user", prompt)
			_ = store.Append("assistant", state.Text)

			fmt.Fprintf(os.Stderr, "\n%d tokens, %.1f tok/s, ttft %s, %s\n",
				state.TokenCount, state.TokensPerSecond, state.TimeToFirstToken.Round(1e6), state.Reason)
			return nil
		},
	}

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool capability catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp()
			if err != nil {
				return err
			}
			fmt.Println(application.Registry.CatalogueJSON())
			return nil
		},
	}

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List background jobs (newest first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp()
			if err != nil {
				return err
			}
			jobs, err := application.Jobs.List()
			if err != nil {
				return err
			}
			for _, job := range jobs {
				fmt.Printf("%s  %-8s  exit=%d  via=%s  %s\n", job.ID, job.Status, job.ExitCode, job.Origin, job.Command)
			}
			return nil
		},
	}

	jobsStopCmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Send SIGTERM to a running background job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp()
			if err != nil {
				return err
			}
			job, ok := application.Jobs.Get(args[0])
			if !ok {
				return fmt.Errorf("no job %q", args[0])
			}
			if job.Status != app.JobRunning {
				return fmt.Errorf("job %s already %s", job.ID, job.Status)
			}
			if err := application.Runner.Stop(job); err != nil {
				return err
			}
			fmt.Printf("sent SIGTERM to job %s (pid %d)\n", job.ID, job.PID)
			return nil
		},
	}
	jobsCmd.AddCommand(jobsStopCmd)

	root.AddCommand(runCmd, generateCmd, toolsCmd, jobsCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func conversationPath(cfg app.Config) string {
	if cfg.ConversationPath != "" {
		return cfg.ConversationPath
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mlxcode", "conversation.json")
	}
	return filepath.Join(base, "mlxcode", "conversation.json")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()
	return ctx, cancel
}
