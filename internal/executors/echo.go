package executors

import (
	"context"

	"github.com/aretw0/toolbus/pkg/domain"
	"github.com/aretw0/toolbus/pkg/executor"
)

// Echo reflects its input back as its result. It needs no servers and
// exists for wiring checks and workflow demos.
type Echo struct {
	executor.Base
}

// NewEcho is the factory registered under "echo".
func NewEcho(deps executor.Deps) executor.Executor {
	return &Echo{Base: executor.NewBase("echo", nil, deps)}
}

// Execute implements executor.Executor.
func (e *Echo) Execute(ctx context.Context, input map[string]any) (*domain.Result, error) {
	data := make(map[string]any, len(input))
	for k, v := range input {
		data[k] = v
	}
	return e.NewResult(data), nil
}
