// Package ports defines the driven-side interfaces that decouple
// executors and adapters from the concrete runtime.
package ports

import (
	"context"

	"github.com/aretw0/toolbus/pkg/domain"
)

// Invoker is the call surface executors use to reach tool servers.
// The gateway is the production implementation; tests substitute fakes.
type Invoker interface {
	// Initialize best-effort starts the named servers (all enabled
	// servers when names is empty). Individual start failures are
	// logged, not returned.
	Initialize(ctx context.Context, names []string) error

	// CallTool invokes tool on server with the given arguments,
	// consulting the response cache first.
	CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error)
}

// ToolLister discovers the tools a server advertises.
type ToolLister interface {
	ListTools(ctx context.Context, server string) ([]domain.ToolInfo, error)
}

// StatusReporter exposes per-server liveness for diagnostics.
type StatusReporter interface {
	Status() map[string]domain.ServerStatus
}
