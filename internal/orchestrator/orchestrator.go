// Package orchestrator runs declarative workflows over task executors:
// sequential steps in declared order, parallel groups with all-settled
// semantics, placeholder wiring between step outputs and inputs, and
// synthesis of one final answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/toolbus/internal/logging"
	"github.com/aretw0/toolbus/pkg/domain"
	"github.com/aretw0/toolbus/pkg/executor"
)

// Orchestrator holds the registration tables. Executors and workflows
// are registered explicitly at startup; nothing is discovered by
// reflection at call time.
type Orchestrator struct {
	mu        sync.RWMutex
	executors map[string]executor.Factory
	workflows map[string]domain.Workflow

	deps   executor.Deps
	logger *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an empty orchestrator whose executors receive deps at
// instantiation time.
func New(deps executor.Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		executors: make(map[string]executor.Factory),
		workflows: make(map[string]domain.Workflow),
		deps:      deps,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.deps.Logger == nil {
		o.deps.Logger = o.logger
	}
	return o
}

// RegisterExecutor adds a factory to the table. Re-registering a name
// overwrites the previous factory.
func (o *Orchestrator) RegisterExecutor(name string, factory executor.Factory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executors[name] = factory
}

// RegisterWorkflow adds a workflow definition to the table.
func (o *Orchestrator) RegisterWorkflow(wf domain.Workflow) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.workflows[wf.Name] = wf
}

// Workflows lists the registered workflow names.
func (o *Orchestrator) Workflows() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.workflows))
	for name := range o.workflows {
		names = append(names, name)
	}
	return names
}

// Execute runs the workflow named by task.Type to completion and
// synthesizes the result. A failed run returns no partial data, only a
// *domain.WorkflowError naming the failing step.
func (o *Orchestrator) Execute(ctx context.Context, task domain.Task) (*domain.RunResult, error) {
	o.mu.RLock()
	wf, ok := o.workflows[task.Type]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %q: %w", task.Type, domain.ErrWorkflowUnknown)
	}

	r := &run{
		o:        o,
		workflow: wf,
		task:     task,
		results:  make(map[string]*domain.Result),
		logger:   o.logger.With("workflow", wf.Name),
	}
	return r.execute(ctx)
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateCompleted
	stateFailed
)

// run is single-use: one workflow execution owns one run and its
// execution context exclusively. Concurrent Execute calls each get
// their own.
type run struct {
	o        *Orchestrator
	workflow domain.Workflow
	task     domain.Task

	// results accumulates stepName -> result; executors read prior
	// entries through input mappings, only the run appends.
	results map[string]*domain.Result
	order   []string

	state  runState
	logger *slog.Logger
}

func (r *run) execute(ctx context.Context) (*domain.RunResult, error) {
	started := time.Now()
	runID := uuid.NewString()
	r.state = stateRunning
	r.logger.Info("workflow started", "run_id", runID, "steps", len(r.workflow.Steps))

	for _, step := range r.workflow.Steps {
		if err := r.runStep(ctx, step); err != nil {
			r.state = stateFailed
			r.logger.Error("workflow failed", "run_id", runID, "error", err)
			return nil, err
		}
	}

	data := r.synthesize(r.task.Synthesis)
	r.state = stateCompleted

	result := &domain.RunResult{
		Data: data,
		Metadata: domain.RunMetadata{
			Workflow:      r.workflow.Name,
			RunID:         runID,
			ExecutorsUsed: r.order,
			Duration:      time.Since(started),
		},
	}
	r.logger.Info("workflow completed", "run_id", runID,
		"duration", result.Metadata.Duration, "executors", len(r.order))
	return result, nil
}

func (r *run) runStep(ctx context.Context, step domain.Step) error {
	if step.IsParallel() {
		return r.runParallel(ctx, step)
	}

	res, err := r.runMember(ctx, step)
	if err != nil {
		return &domain.WorkflowError{Workflow: r.workflow.Name, Step: step.Executor, Err: err}
	}
	r.record(res)
	return nil
}

// runParallel executes every member concurrently and waits for all of
// them to settle. Members are never cancelled early: a failing member
// must not leave a sibling's cleanup unrun. The first failure (in
// declaration order) fails the step once everyone has settled.
func (r *run) runParallel(ctx context.Context, step domain.Step) error {
	members := step.Parallel
	results := make([]*domain.Result, len(members))
	errs := make([]error, len(members))

	var wg sync.WaitGroup
	for i, member := range members {
		wg.Add(1)
		go func(i int, member domain.Step) {
			defer wg.Done()
			results[i], errs[i] = r.runMember(ctx, member)
		}(i, member)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return &domain.WorkflowError{
				Workflow: r.workflow.Name,
				Step:     members[i].Executor,
				Err:      err,
			}
		}
	}
	for _, res := range results {
		r.record(res)
	}
	return nil
}

// runMember performs the full instantiate/init/execute/cleanup sequence
// for one executor. Cleanup runs on both paths; its failure is logged
// and never masks the execute error.
func (r *run) runMember(ctx context.Context, step domain.Step) (*domain.Result, error) {
	r.o.mu.RLock()
	factory, ok := r.o.executors[step.Executor]
	r.o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", step.Executor, domain.ErrExecutorUnknown)
	}

	deps := r.o.deps
	deps.Logger = r.logger.With("executor", step.Executor)
	exec := factory(deps)

	if err := exec.Init(ctx); err != nil {
		return nil, &domain.ExecutorError{Executor: step.Executor, Op: "init", Err: err}
	}

	input := r.buildInput(step)
	r.logger.Debug("executing step", "executor", step.Executor)

	res, execErr := safeExecute(ctx, exec, input)

	if cleanupErr := safeCleanup(ctx, exec); cleanupErr != nil {
		r.logger.Warn("executor cleanup failed", "executor", step.Executor, "error", cleanupErr)
	}

	if execErr != nil {
		var wrapped *domain.ExecutorError
		if !errors.As(execErr, &wrapped) {
			execErr = &domain.ExecutorError{Executor: step.Executor, Op: "execute", Err: execErr}
		}
		return nil, execErr
	}

	if res == nil {
		res = &domain.Result{Data: map[string]any{}}
	}
	if res.Executor == "" {
		res.Executor = step.Executor
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	return res, nil
}

// record appends a settled result to the execution context.
func (r *run) record(res *domain.Result) {
	r.results[res.Executor] = res
	r.order = append(r.order, res.Executor)
}

// buildInput merges, in increasing precedence: the task-level input,
// the step's static input, and the resolved input mappings. Mappings
// that resolve to nothing are omitted, not errors.
func (r *run) buildInput(step domain.Step) map[string]any {
	input := make(map[string]any)
	maps.Copy(input, r.task.Input)
	maps.Copy(input, step.Input)
	for key, ref := range step.InputMapping {
		if value, ok := resolveRef(ref, r.results); ok {
			input[key] = value
		} else {
			r.logger.Debug("input mapping unresolved, omitting",
				"executor", step.Executor, "key", key, "ref", ref)
		}
	}
	return input
}

// safeExecute shields the run from a panicking executor.
func safeExecute(ctx context.Context, exec executor.Executor, input map[string]any) (res *domain.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("executor panicked: %v", rec)
		}
	}()
	return exec.Execute(ctx, input)
}

// safeCleanup guarantees cleanup never throws past the caller.
func safeCleanup(ctx context.Context, exec executor.Executor) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cleanup panicked: %v", rec)
		}
	}()
	return exec.Cleanup(ctx)
}
