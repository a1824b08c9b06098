package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RegisterBuiltinTools wires the standard capability set into a registry.
// Handlers own all I/O; the runner is shared by everything that shells out.
func RegisterBuiltinTools(reg *ToolRegistry, runner *Runner, store *JobStore, defaultTimeout time.Duration) {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}

	reg.Register(Tool{
		Name:        "read_file",
		Description: "Read the contents of a file",
		Parameters: map[string]ParamSpec{
			"path": {Type: ParamString, Description: "Path to the file to read", Required: true},
		},
		Handler: func(ctx context.Context, args ToolArgs) ToolResult {
			data, err := os.ReadFile(args.String("path"))
			if err != nil {
				return ToolResult{Error: err.Error()}
			}
			return ToolResult{Success: true, Output: string(data)}
		},
	})

	reg.Register(Tool{
		Name:        "write_file",
		Description: "Create or overwrite a file with the given content",
		Parameters: map[string]ParamSpec{
			"path":    {Type: ParamString, Description: "Path to the file to write", Required: true},
			"content": {Type: ParamString, Description: "Content to write to the file", Required: true},
		},
		Handler: func(ctx context.Context, args ToolArgs) ToolResult {
			path := args.String("path")
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return ToolResult{Error: fmt.Sprintf("failed to create directory: %v", err)}
				}
			}
			if err := os.WriteFile(path, []byte(args.String("content")), 0o644); err != nil {
				return ToolResult{Error: err.Error()}
			}
			return ToolResult{Success: true, Output: fmt.Sprintf("File written: %s", path)}
		},
	})

	reg.Register(Tool{
		Name:        "list_dir",
		Description: "List files in a directory",
		Parameters: map[string]ParamSpec{
			"path": {Type: ParamString, Description: "Path to the directory", Required: false},
		},
		Handler: func(ctx context.Context, args ToolArgs) ToolResult {
			path := args.String("path")
			if path == "" {
				path = "."
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return ToolResult{Error: err.Error()}
			}
			var lines []string
			for _, entry := range entries {
				if entry.IsDir() {
					lines = append(lines, entry.Name()+"/")
				} else {
					lines = append(lines, entry.Name())
				}
			}
			return ToolResult{Success: true, Output: strings.Join(lines, "\n")}
		},
	})

	reg.Register(Tool{
		Name:        "exec",
		Description: "Execute a shell command and return its output",
		Parameters: map[string]ParamSpec{
			"command": {Type: ParamString, Description: "The shell command to execute", Required: true},
			"timeout": {Type: ParamInteger, Description: "Timeout in seconds (default: 30)", Required: false},
		},
		Handler: func(ctx context.Context, args ToolArgs) ToolResult {
			timeout := defaultTimeout
			if args.Has("timeout") && args.Int("timeout") > 0 {
				timeout = time.Duration(args.Int("timeout")) * time.Second
			}
			return runCommand(ctx, runner, args.String("command"), timeout)
		},
	})

	reg.Register(Tool{
		Name:        "exec_background",
		Description: "Start a long-running shell command as a detached background job",
		Parameters: map[string]ParamSpec{
			"command": {Type: ParamString, Description: "The shell command to run in the background", Required: true},
		},
		Handler: func(ctx context.Context, args ToolArgs) ToolResult {
			if store == nil {
				return ToolResult{Error: "background jobs are not configured"}
			}
			job, err := runner.RunBackground(context.Background(), args.String("command"), "exec_background", store)
			if err != nil {
				return ToolResult{Error: err.Error()}
			}
			return ToolResult{
				Success:  true,
				Output:   fmt.Sprintf("Job started: %s (pid %d)", job.ID, job.PID),
				Metadata: map[string]string{"job_id": job.ID, "log_path": job.LogPath},
			}
		},
	})

	reg.Register(Tool{
		Name:        "grep",
		Description: "Search for text in files",
		Parameters: map[string]ParamSpec{
			"pattern":   {Type: ParamString, Description: "Search pattern", Required: true},
			"path":      {Type: ParamString, Description: "Path to search in", Required: false},
			"recursive": {Type: ParamBoolean, Description: "Search recursively", Required: false},
		},
		Handler: func(ctx context.Context, args ToolArgs) ToolResult {
			path := args.String("path")
			if path == "" {
				path = "."
			}
			flags := "-Hn"
			if args.Bool("recursive") {
				flags = "-rHn"
			}
			cmd := fmt.Sprintf("grep %s %s %s", flags, shellQuote(args.String("pattern")), shellQuote(path))
			result := runCommand(ctx, runner, cmd, defaultTimeout)
			// grep exits 1 on no matches, which is not a failure here.
			if !result.Success && result.Output == "" && result.Metadata["exit_code"] == "1" {
				return ToolResult{Success: true, Output: ""}
			}
			return result
		},
	})

	reg.Register(Tool{
		Name:        "search_files",
		Description: "Search for files matching a glob pattern",
		Parameters: map[string]ParamSpec{
			"pattern": {Type: ParamString, Description: "Glob pattern (e.g., *.go)", Required: true},
			"path":    {Type: ParamString, Description: "Base path to search from", Required: false},
		},
		Handler: func(ctx context.Context, args ToolArgs) ToolResult {
			path := args.String("path")
			if path == "" {
				path = "."
			}
			cmd := fmt.Sprintf("find %s -name %s -type f", shellQuote(path), shellQuote(args.String("pattern")))
			return runCommand(ctx, runner, cmd, defaultTimeout)
		},
	})

	reg.Register(Tool{
		Name:        "git",
		Description: "Run a git subcommand in the working tree",
		Parameters: map[string]ParamSpec{
			"args": {Type: ParamArray, Description: "Arguments passed to git (e.g., [\"status\", \"--short\"])", Required: true},
		},
		Handler: func(ctx context.Context, args ToolArgs) ToolResult {
			parts := args.Strings("args")
			if len(parts) == 0 {
				return ToolResult{Error: "git requires at least one argument"}
			}
			quoted := make([]string, len(parts))
			for i, p := range parts {
				quoted[i] = shellQuote(p)
			}
			return runCommand(ctx, runner, "git "+strings.Join(quoted, " "), defaultTimeout)
		},
	})

	reg.Register(Tool{
		Name:        "build",
		Description: "Run the project's build command",
		Parameters: map[string]ParamSpec{
			"command": {Type: ParamString, Description: "Build command to run (e.g., xcodebuild, make)", Required: true},
			"timeout": {Type: ParamInteger, Description: "Timeout in seconds (default: 300)", Required: false},
		},
		Handler: func(ctx context.Context, args ToolArgs) ToolResult {
			timeout := 300 * time.Second
			if args.Has("timeout") && args.Int("timeout") > 0 {
				timeout = time.Duration(args.Int("timeout")) * time.Second
			}
			return runCommand(ctx, runner, args.String("command"), timeout)
		},
	})
}

func runCommand(ctx context.Context, runner *Runner, command string, timeout time.Duration) ToolResult {
	exitCode, stdout, stderr, err := runner.Run(ctx, command, timeout)
	if err != nil {
		return ToolResult{Error: err.Error(), Output: stdout}
	}
	result := ToolResult{
		Success:  exitCode == 0,
		Output:   stdout,
		Metadata: map[string]string{"exit_code": fmt.Sprintf("%d", exitCode)},
	}
	if exitCode != 0 {
		result.Error = strings.TrimSpace(stderr)
		if result.Error == "" {
			result.Error = fmt.Sprintf("command exited with code %d", exitCode)
		}
	}
	return result
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
