package app

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkerBusy means a generation is already in flight.
	ErrWorkerBusy = errors.New("worker is busy")
	// ErrWorkerNotReady means the worker has not started or has terminated.
	ErrWorkerNotReady = errors.New("worker is not ready")
	// ErrTaskAlreadyRunning means the planner rejected a concurrent Run.
	ErrTaskAlreadyRunning = errors.New("a task is already running")
	// ErrToolNotFound means the registry has no tool under the requested name.
	ErrToolNotFound = errors.New("tool not found")
)

// StartupError means the worker process never became ready: spawn failure,
// no ready signal within the timeout, or an error event during startup.
type StartupError struct {
	Cause error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("worker startup failed: %v", e.Cause)
}

func (e *StartupError) Unwrap() error { return e.Cause }

// CommunicationError means the link to a previously healthy worker broke:
// a failed write, an unexpected process exit, or an undecodable line.
type CommunicationError struct {
	Reason string
	Cause  error
}

func (e *CommunicationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("worker communication failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("worker communication failed: %s", e.Reason)
}

func (e *CommunicationError) Unwrap() error { return e.Cause }

// WorkerError is an error the worker itself reported over the protocol.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker error: %s", e.Message)
}

// ValidationError means a tool invocation carried an argument that fails the
// tool's declared schema. The handler never ran.
type ValidationError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s: parameter %q: %s", e.Tool, e.Param, e.Reason)
}

// UnknownParameterError means the invocation named a parameter the tool does
// not declare.
type UnknownParameterError struct {
	Tool  string
	Param string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("tool %s: unknown parameter %q", e.Tool, e.Param)
}

// StepError reports which plan step aborted a task run and whether a retry
// was attempted first.
type StepError struct {
	Index       int
	Description string
	Retried     bool
	Cause       error
}

func (e *StepError) Error() string {
	if e.Retried {
		return fmt.Sprintf("step %d (%s) failed after retry: %v", e.Index+1, e.Description, e.Cause)
	}
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index+1, e.Description, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }
