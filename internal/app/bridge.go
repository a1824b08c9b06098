package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

type WorkerState string

const (
	WorkerNotStarted WorkerState = "not_started"
	WorkerStarting   WorkerState = "starting"
	WorkerReady      WorkerState = "ready"
	WorkerBusy       WorkerState = "busy"
	WorkerTerminated WorkerState = "terminated"
)

// WorkerBridge owns exactly one inference worker process and the line channel
// to it. Access is serialized: one logical caller holds the channel at a time
// (Acquire/Release), so token delivery is strictly ordered by construction.
type WorkerBridge struct {
	Command        string
	Args           []string
	StartupTimeout time.Duration
	Logger         *Logger

	mu    sync.Mutex
	state WorkerState
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
}

func NewWorkerBridge(command string, args []string, startupTimeout time.Duration, logger *Logger) *WorkerBridge {
	if startupTimeout <= 0 {
		startupTimeout = 30 * time.Second
	}
	return &WorkerBridge{
		Command:        command,
		Args:           args,
		StartupTimeout: startupTimeout,
		Logger:         logger,
		state:          WorkerNotStarted,
	}
}

func (b *WorkerBridge) State() WorkerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *WorkerBridge) setState(s WorkerState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Start spawns the worker process and blocks until it signals ready. A worker
// that never signals ready within the startup timeout yields a StartupError,
// which callers can tell apart from a crash mid-use (CommunicationError).
func (b *WorkerBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state == WorkerStarting || b.state == WorkerReady || b.state == WorkerBusy {
		b.mu.Unlock()
		return fmt.Errorf("worker already started (state %s)", b.state)
	}
	b.state = WorkerStarting

	cmd := exec.Command(b.Command, b.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		b.state = WorkerTerminated
		b.mu.Unlock()
		return &StartupError{Cause: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		b.state = WorkerTerminated
		b.mu.Unlock()
		return &StartupError{Cause: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		b.state = WorkerTerminated
		b.mu.Unlock()
		return &StartupError{Cause: fmt.Errorf("stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		b.state = WorkerTerminated
		b.mu.Unlock()
		return &StartupError{Cause: err}
	}

	b.cmd = cmd
	b.stdin = stdin
	b.lines = make(chan string, 64)
	lines := b.lines
	b.mu.Unlock()

	go b.readStderr(stderr)
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
		_ = cmd.Wait()
	}()

	startCtx, cancel := context.WithTimeout(ctx, b.StartupTimeout)
	defer cancel()
	for {
		ev, err := b.receive(startCtx, lines)
		if err != nil {
			b.Terminate()
			if errors.Is(err, context.DeadlineExceeded) {
				return &StartupError{Cause: fmt.Errorf("no ready signal within %s", b.StartupTimeout)}
			}
			return &StartupError{Cause: err}
		}
		if ev.Type == EventReady {
			break
		}
		if ev.Type == EventError {
			b.Terminate()
			return &StartupError{Cause: fmt.Errorf("worker error during startup: %s", ev.Error)}
		}
		// Anything else before ready (import noise etc.) is skipped.
	}

	b.setState(WorkerReady)
	if b.Logger != nil {
		b.Logger.Info("worker ready", map[string]interface{}{"command": b.Command})
	}
	return nil
}

// Send writes one command line to the worker.
func (b *WorkerBridge) Send(cmd Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != WorkerReady && b.state != WorkerBusy {
		return fmt.Errorf("%w (state %s)", ErrWorkerNotReady, b.state)
	}
	payload, err := encodeCommand(cmd)
	if err != nil {
		return err
	}
	if _, err := b.stdin.Write(payload); err != nil {
		b.state = WorkerTerminated
		return &CommunicationError{Reason: "write to worker stdin", Cause: err}
	}
	return nil
}

// Receive blocks until one complete protocol line is available, the context
// is cancelled, or the worker dies.
func (b *WorkerBridge) Receive(ctx context.Context) (Event, error) {
	b.mu.Lock()
	lines := b.lines
	state := b.state
	b.mu.Unlock()
	if state != WorkerReady && state != WorkerBusy {
		return Event{}, fmt.Errorf("%w (state %s)", ErrWorkerNotReady, state)
	}
	ev, err := b.receive(ctx, lines)
	if err != nil {
		var commErr *CommunicationError
		if errors.As(err, &commErr) {
			b.setState(WorkerTerminated)
		}
		return Event{}, err
	}
	return ev, nil
}

func (b *WorkerBridge) receive(ctx context.Context, lines chan string) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return Event{}, &CommunicationError{Reason: "worker process exited unexpectedly"}
			}
			if len(line) == 0 {
				continue
			}
			ev, err := decodeEvent(line)
			if err != nil {
				return Event{}, &CommunicationError{Reason: "malformed message", Cause: err}
			}
			return ev, nil
		}
	}
}

// Acquire marks the worker busy for one generation. At most one generation is
// in flight per worker; a concurrent caller gets ErrWorkerBusy immediately.
func (b *WorkerBridge) Acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case WorkerReady:
		b.state = WorkerBusy
		return nil
	case WorkerBusy:
		return ErrWorkerBusy
	default:
		return fmt.Errorf("%w (state %s)", ErrWorkerNotReady, b.state)
	}
}

// Release returns a busy worker to ready. A worker that terminated mid-flight
// stays terminated.
func (b *WorkerBridge) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == WorkerBusy {
		b.state = WorkerReady
	}
}

// LoadModel asks the worker to load model weights and waits for the result
// line. Model loads are cached worker-side, so repeat calls are cheap.
func (b *WorkerBridge) LoadModel(ctx context.Context, modelPath string) error {
	if err := b.Acquire(); err != nil {
		return err
	}
	defer b.Release()

	if err := b.Send(Command{Type: CmdLoadModel, ModelPath: modelPath}); err != nil {
		return err
	}
	return b.awaitResult(ctx, "model load")
}

// UnloadModel drops the loaded weights worker-side, freeing memory without
// tearing the process down.
func (b *WorkerBridge) UnloadModel(ctx context.Context) error {
	if err := b.Acquire(); err != nil {
		return err
	}
	defer b.Release()

	if err := b.Send(Command{Type: CmdUnloadModel}); err != nil {
		return err
	}
	return b.awaitResult(ctx, "model unload")
}

// awaitResult consumes lines until the result of a load/unload arrives,
// skipping progress hints.
func (b *WorkerBridge) awaitResult(ctx context.Context, action string) error {
	for {
		ev, err := b.Receive(ctx)
		if err != nil {
			return err
		}
		switch ev.Type {
		case EventResult:
			if !ev.Success {
				return &WorkerError{Message: action + " failed"}
			}
			return nil
		case EventError:
			return &WorkerError{Message: ev.Error}
		case EventProgress:
			continue
		default:
			return &CommunicationError{Reason: fmt.Sprintf("unexpected %s event during %s", ev.Type, action)}
		}
	}
}

// Terminate kills the worker process from any state. Further use requires a
// fresh Start.
func (b *WorkerBridge) Terminate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
	}
	if b.stdin != nil {
		_ = b.stdin.Close()
	}
	b.state = WorkerTerminated
}

// Reset brings the worker back to a known-good ready state after a forced
// stop. The bridge owns this transition: callers cancel, the bridge recovers.
func (b *WorkerBridge) Reset(ctx context.Context) error {
	b.Terminate()
	b.setState(WorkerNotStarted)
	return b.Start(ctx)
}

// Shutdown asks the worker to exit cleanly, then kills it if it lingers.
func (b *WorkerBridge) Shutdown() {
	b.mu.Lock()
	state := b.state
	stdin := b.stdin
	b.mu.Unlock()

	if (state == WorkerReady || state == WorkerBusy) && stdin != nil {
		if payload, err := encodeCommand(Command{Type: CmdExit}); err == nil {
			_, _ = stdin.Write(payload)
		}
		time.Sleep(100 * time.Millisecond)
	}
	b.Terminate()
}

func (b *WorkerBridge) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if b.Logger != nil {
			b.Logger.Warn("worker stderr", map[string]interface{}{"line": scanner.Text()})
		}
	}
}
