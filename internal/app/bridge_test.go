package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeWorkerScript drops a shell script standing in for the inference worker.
// The bridge only cares about newline-delimited JSON on stdio, so a few lines
// of sh are a faithful stand-in.
func writeWorkerScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

const echoWorkerBody = `echo '{"type": "ready"}'
while IFS= read -r line; do
  case "$line" in
    *unload_model*) echo '{"success": true, "message": "Model unloaded successfully"}' ;;
    *load_model*) echo '{"success": true, "path": "/models/test", "name": "test", "type": "mlx", "cached": false, "message": "Model loaded from disk"}' ;;
    *generate*)
      echo '{"type": "token", "token": "hello"}'
      echo '{"type": "token", "token": " world"}'
      echo '{"type": "done", "success": true}'
      ;;
    *exit*) exit 0 ;;
  esac
done
`

func newTestBridge(t *testing.T, body string, startupTimeout time.Duration) *WorkerBridge {
	t.Helper()
	script := writeWorkerScript(t, body)
	bridge := NewWorkerBridge("/bin/sh", []string{script}, startupTimeout, NewLogger(nil))
	t.Cleanup(bridge.Terminate)
	return bridge
}

func TestBridge_GenerateRoundTrip(t *testing.T) {
	bridge := newTestBridge(t, echoWorkerBody, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := bridge.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if bridge.State() != WorkerReady {
		t.Fatalf("state = %s, want ready", bridge.State())
	}

	if err := bridge.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := bridge.Send(Command{Type: CmdGenerate, Prompt: "hi", Stream: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var text string
	for {
		ev, err := bridge.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if ev.Type == EventDone {
			break
		}
		if ev.Type == EventToken {
			text += ev.Token
		}
	}
	if text != "hello world" {
		t.Errorf("streamed text = %q", text)
	}

	bridge.Release()
	if bridge.State() != WorkerReady {
		t.Errorf("state after release = %s, want ready", bridge.State())
	}
}

func TestBridge_SkipsNoiseBeforeReady(t *testing.T) {
	body := `echo '{"type": "progress", "progress": 0.5}'
echo '{"type": "ready"}'
read -r _ignored
`
	bridge := newTestBridge(t, body, 5*time.Second)
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if bridge.State() != WorkerReady {
		t.Errorf("state = %s, want ready", bridge.State())
	}
}

func TestBridge_StartupTimeout(t *testing.T) {
	bridge := newTestBridge(t, "exec sleep 30\n", 200*time.Millisecond)

	err := bridge.Start(context.Background())
	var startupErr *StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("err = %v, want *StartupError", err)
	}
	if bridge.State() != WorkerTerminated {
		t.Errorf("state = %s, want terminated", bridge.State())
	}
}

func TestBridge_StartupErrorEvent(t *testing.T) {
	bridge := newTestBridge(t, `echo '{"type": "model_error", "error": "no accelerator"}'`+"\n", 5*time.Second)

	err := bridge.Start(context.Background())
	var startupErr *StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("err = %v, want *StartupError", err)
	}
}

func TestBridge_WorkerExitMidUse(t *testing.T) {
	// Signals ready, then dies immediately.
	bridge := newTestBridge(t, `echo '{"type": "ready"}'`+"\n", 5*time.Second)
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := bridge.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := bridge.Receive(ctx)
	var commErr *CommunicationError
	if !errors.As(err, &commErr) {
		t.Fatalf("err = %v, want *CommunicationError", err)
	}
	if bridge.State() != WorkerTerminated {
		t.Errorf("state = %s, want terminated", bridge.State())
	}
}

func TestBridge_MalformedLineIsCommunicationError(t *testing.T) {
	body := `echo '{"type": "ready"}'
echo 'this is not json'
read -r _ignored
`
	bridge := newTestBridge(t, body, 5*time.Second)
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := bridge.Receive(ctx)
	var commErr *CommunicationError
	if !errors.As(err, &commErr) {
		t.Fatalf("err = %v, want *CommunicationError", err)
	}
	if bridge.State() != WorkerTerminated {
		t.Errorf("state = %s, want terminated", bridge.State())
	}
}

func TestBridge_AcquireIsExclusive(t *testing.T) {
	bridge := newTestBridge(t, echoWorkerBody, 5*time.Second)
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := bridge.Acquire(); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := bridge.Acquire(); !errors.Is(err, ErrWorkerBusy) {
		t.Errorf("second Acquire err = %v, want ErrWorkerBusy", err)
	}
	bridge.Release()
	if err := bridge.Acquire(); err != nil {
		t.Errorf("Acquire after Release: %v", err)
	}
}

func TestBridge_SendAfterTerminate(t *testing.T) {
	bridge := newTestBridge(t, echoWorkerBody, 5*time.Second)
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	bridge.Terminate()

	err := bridge.Send(Command{Type: CmdGenerate, Prompt: "hi"})
	if !errors.Is(err, ErrWorkerNotReady) {
		t.Errorf("err = %v, want ErrWorkerNotReady", err)
	}
	if err := bridge.Acquire(); !errors.Is(err, ErrWorkerNotReady) {
		t.Errorf("Acquire err = %v, want ErrWorkerNotReady", err)
	}
}

func TestBridge_LoadModel(t *testing.T) {
	bridge := newTestBridge(t, echoWorkerBody, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := bridge.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// The fake answers with the worker's literal success line, which is
	// tagged with the model kind rather than a stream event type.
	if err := bridge.LoadModel(ctx, "/models/test"); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	// The load released the worker rather than terminating the bridge;
	// generation may proceed.
	if bridge.State() != WorkerReady {
		t.Errorf("state = %s, want ready", bridge.State())
	}
}

func TestBridge_UnloadModel(t *testing.T) {
	bridge := newTestBridge(t, echoWorkerBody, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := bridge.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := bridge.LoadModel(ctx, "/models/test"); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if err := bridge.UnloadModel(ctx); err != nil {
		t.Fatalf("UnloadModel: %v", err)
	}
	if bridge.State() != WorkerReady {
		t.Errorf("state = %s, want ready", bridge.State())
	}
}

func TestBridge_LoadModelFailure(t *testing.T) {
	body := `echo '{"type": "ready"}'
while IFS= read -r line; do
  case "$line" in
    *load_model*) echo '{"type": "model_error", "error": "weights missing", "success": false}' ;;
  esac
done
`
	bridge := newTestBridge(t, body, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := bridge.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := bridge.LoadModel(ctx, "/models/missing")
	var workerErr *WorkerError
	if !errors.As(err, &workerErr) {
		t.Fatalf("err = %v, want *WorkerError", err)
	}
}

func TestBridge_ResetRestoresReady(t *testing.T) {
	bridge := newTestBridge(t, echoWorkerBody, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := bridge.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := bridge.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := bridge.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if bridge.State() != WorkerReady {
		t.Errorf("state after reset = %s, want ready", bridge.State())
	}
}
