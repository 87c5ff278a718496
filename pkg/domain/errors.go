package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrServerUnknown is returned when no descriptor exists for a server name.
var ErrServerUnknown = errors.New("server not configured")

// ErrServerDisabled is returned when a descriptor exists but is disabled.
var ErrServerDisabled = errors.New("server disabled")

// ErrServerNotRunning is returned when a call reaches a server that has
// no live connection (never started, stopped, or past its retry ceiling).
var ErrServerNotRunning = errors.New("server not running")

// ErrConnClosed is returned to pending requests when a connection closes.
var ErrConnClosed = errors.New("connection closed")

// ErrRequestTimeout is returned when no response arrives within the deadline.
var ErrRequestTimeout = errors.New("request timed out")

// ErrToolNotAllowed is the sentinel matched by errors.Is for allow-list
// violations; the concrete value is always a *ToolNotAllowedError.
var ErrToolNotAllowed = errors.New("tool not allowed")

// ErrWorkflowUnknown is returned when a task names an unregistered workflow.
var ErrWorkflowUnknown = errors.New("workflow not registered")

// ErrExecutorUnknown is returned when a step names an unregistered executor.
var ErrExecutorUnknown = errors.New("executor not registered")

// SpawnError reports that a server process could not be started.
type SpawnError struct {
	Server string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Server, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// RPCError is an error envelope received from a peer over the wire.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ToolNotAllowedError reports an allow-list violation. The message names
// both the offending tool and the permitted set so the caller can correct
// the call instead of guessing.
type ToolNotAllowedError struct {
	Server  string
	Tool    string
	Allowed []string
}

func (e *ToolNotAllowedError) Error() string {
	return fmt.Sprintf("tool %q not allowed on server %q (allowed: %s)",
		e.Tool, e.Server, strings.Join(e.Allowed, ", "))
}

func (e *ToolNotAllowedError) Is(target error) bool { return target == ErrToolNotAllowed }

// ExecutorError attributes a failure inside Execute to a specific
// executor and operation.
type ExecutorError struct {
	Executor string
	Op       string
	Err      error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor %s: %s: %v", e.Executor, e.Op, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// WorkflowError wraps the failing step's error with run identity.
// A failed run returns no partial data, only this error.
type WorkflowError struct {
	Workflow string
	Step     string
	Err      error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow %s: step %s: %v", e.Workflow, e.Step, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }
