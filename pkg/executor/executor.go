// Package executor defines the contract every task executor implements
// and a Base type carrying the shared lifecycle plumbing.
//
// Concrete executors embed Base and implement Execute; everything else
// (declared servers, idempotent best-effort initialization, cleanup,
// error wrapping) comes with the embedding.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/toolbus/pkg/domain"
	"github.com/aretw0/toolbus/pkg/ports"
)

// Executor is one unit of work in a workflow.
type Executor interface {
	// Name identifies this executor; workflow results are keyed by it.
	Name() string

	// RequiredServers lists the tool servers this executor wants
	// started before Execute runs.
	RequiredServers() []string

	// Init prepares the executor. It is idempotent, and a server that
	// fails to start is a warning, not an error: executors that don't
	// strictly need every declared server can still partially function.
	Init(ctx context.Context) error

	// Execute performs the work. Results must be summaries; verbose
	// intermediate state must not leak past the executor boundary.
	Execute(ctx context.Context, input map[string]any) (*domain.Result, error)

	// Cleanup runs after Execute on both the success and failure path.
	// Implementations must never panic past the caller.
	Cleanup(ctx context.Context) error
}

// Factory builds one executor instance bound to its dependencies.
// The orchestrator instantiates a fresh executor per step.
type Factory func(deps Deps) Executor

// Deps is the execution context bound at construction.
type Deps struct {
	Logger  *slog.Logger
	Invoker ports.Invoker
	// Config carries optional executor-specific settings from the host.
	Config map[string]any
}

// Base provides the shared contract plumbing. Embed it and override
// Execute; override RequiredServers only via NewBase's servers argument.
type Base struct {
	name    string
	servers []string
	deps    Deps
	ready   bool
}

// NewBase binds a name, declared servers, and dependencies.
func NewBase(name string, servers []string, deps Deps) Base {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return Base{name: name, servers: servers, deps: deps}
}

// Name implements Executor.
func (b *Base) Name() string { return b.name }

// RequiredServers implements Executor.
func (b *Base) RequiredServers() []string { return b.servers }

// Logger returns the bound logger.
func (b *Base) Logger() *slog.Logger { return b.deps.Logger }

// Invoker returns the bound tool gateway.
func (b *Base) Invoker() ports.Invoker { return b.deps.Invoker }

// Config returns the executor-specific settings.
func (b *Base) Config() map[string]any { return b.deps.Config }

// Init implements Executor: idempotent, best-effort server startup.
func (b *Base) Init(ctx context.Context) error {
	if b.ready {
		return nil
	}
	if b.deps.Invoker != nil && len(b.servers) > 0 {
		if err := b.deps.Invoker.Initialize(ctx, b.servers); err != nil {
			// Downgraded on purpose: a missing server only matters when
			// Execute actually calls it, and then the call site fails
			// with the precise error.
			b.deps.Logger.Warn("executor servers failed to start",
				"executor", b.name, "error", err)
		}
	}
	b.ready = true
	return nil
}

// Cleanup implements Executor as a no-op. Executors holding resources
// override it.
func (b *Base) Cleanup(ctx context.Context) error { return nil }

// NewResult stamps data with this executor's identity and the current
// time.
func (b *Base) NewResult(data map[string]any) *domain.Result {
	return &domain.Result{Executor: b.name, Timestamp: time.Now(), Data: data}
}

// Wrap attributes err to this executor and operation. A nil err returns
// nil; an error already wrapped for this executor passes through.
func (b *Base) Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.ExecutorError{Executor: b.name, Op: op, Err: err}
}

// Call invokes a tool through the bound gateway and wraps failures with
// this executor's identity.
func (b *Base) Call(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	result, err := b.deps.Invoker.CallTool(ctx, server, tool, args)
	if err != nil {
		return nil, b.Wrap("call "+server+"/"+tool, err)
	}
	return result, nil
}
