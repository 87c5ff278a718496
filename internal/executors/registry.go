package executors

import (
	"github.com/aretw0/toolbus/internal/orchestrator"
	"github.com/aretw0/toolbus/pkg/executor"
)

// builtins is the explicit registration table: no runtime discovery,
// no reflection.
var builtins = map[string]executor.Factory{
	"discovery": NewDiscovery,
	"metrics":   NewMetrics,
	"echo":      NewEcho,
}

// RegisterBuiltins adds every built-in executor factory to o.
func RegisterBuiltins(o *orchestrator.Orchestrator) {
	for name, factory := range builtins {
		o.RegisterExecutor(name, factory)
	}
}
