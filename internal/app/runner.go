package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Runner executes opaque shell commands for tool handlers. Foreground runs
// block with a timeout and return (exit code, stdout, stderr); long commands
// can be detached as background jobs with persisted status.
type Runner struct {
	Logger  *Logger
	JobRoot string
}

func NewRunner(logger *Logger, jobRoot string) *Runner {
	return &Runner{Logger: logger, JobRoot: jobRoot}
}

func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) (int, string, string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), stdout.String(), stderr.String(), nil
		}
		return -1, stdout.String(), stderr.String(), err
	}
	return 0, stdout.String(), stderr.String(), nil
}

// RunBackground detaches a command as a tracked job. origin names what asked
// for it (tool name or task-run id) and travels with the persisted record.
func (r *Runner) RunBackground(ctx context.Context, command, origin string, store *JobStore) (Job, error) {
	if store == nil {
		return Job{}, errors.New("job store is required")
	}
	jobID := uuid.NewString()
	logPath := filepath.Join(r.JobRoot, fmt.Sprintf("%s.log", jobID))
	if err := os.MkdirAll(r.JobRoot, 0o755); err != nil {
		return Job{}, err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Job{}, err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return Job{}, err
	}

	job := Job{
		ID:        jobID,
		Command:   command,
		Origin:    origin,
		PID:       cmd.Process.Pid,
		LogPath:   logPath,
		Status:    JobRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := store.Save(job); err != nil {
		_ = logFile.Close()
		return Job{}, err
	}

	go func() {
		defer logFile.Close()
		err := cmd.Wait()
		job.EndedAt = time.Now().UTC()
		if err != nil {
			job.Status = JobFailed
			if exitErr, ok := err.(*exec.ExitError); ok {
				job.ExitCode = exitErr.ExitCode()
			} else {
				job.ExitCode = -1
			}
		} else {
			job.Status = JobExited
			job.ExitCode = 0
		}
		_ = store.Save(job)
	}()

	return job, nil
}

func (r *Runner) TailLog(path string, out io.Writer, lines int) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buffer := make([]string, 0, lines)
	for scanner.Scan() {
		buffer = append(buffer, scanner.Text())
		if len(buffer) > lines {
			buffer = buffer[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	for _, line := range buffer {
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}

func (r *Runner) Stop(job Job) error {
	if job.PID == 0 {
		return errors.New("job has no pid")
	}
	process, err := os.FindProcess(job.PID)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGTERM)
}
