// Package gateway is the single call surface executors use to invoke
// tools. It composes the response cache, the allow-list policy, and the
// process supervisor, and deduplicates identical in-flight calls.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aretw0/toolbus/internal/cache"
	"github.com/aretw0/toolbus/internal/logging"
	"github.com/aretw0/toolbus/internal/observability"
	"github.com/aretw0/toolbus/pkg/domain"
)

// Supervisor is the process layer the gateway routes through. The
// concrete implementation is internal/supervisor; tests substitute
// fakes.
type Supervisor interface {
	Start(ctx context.Context, name string) error
	CallTool(ctx context.Context, name, tool string, args map[string]any) (any, error)
	ListTools(ctx context.Context, name string) ([]domain.ToolInfo, error)
	Status() map[string]domain.ServerStatus
	Descriptor(name string) (domain.ServerDescriptor, bool)
	EnabledServers() []string
	StopAll()
}

// Gateway routes tool calls: cache first, then allow-list, then the
// supervisor, lazily starting servers on the way.
type Gateway struct {
	sup     Supervisor
	cache   *cache.Cache
	flight  singleflight.Group
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithMetrics records per-call counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New wires a gateway over the given supervisor and cache.
func New(sup Supervisor, c *cache.Cache, opts ...Option) *Gateway {
	g := &Gateway{
		sup:    sup,
		cache:  c,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Initialize best-effort starts the named servers, or every enabled
// server when names is empty. One server failing to start does not stop
// the others; failures are logged and the method still returns nil so
// executors that can partially function get their chance.
func (g *Gateway) Initialize(ctx context.Context, names []string) error {
	if len(names) == 0 {
		names = g.sup.EnabledServers()
	}
	for _, name := range names {
		if err := g.sup.Start(ctx, name); err != nil {
			g.logger.Warn("server failed to start", "server", name, "error", err)
		}
	}
	return nil
}

// CallTool invokes tool on server. Cache hits never touch the process
// layer; misses are deduplicated so two concurrent identical calls
// produce one worker invocation. Errors from the process layer
// propagate unchanged.
func (g *Gateway) CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	key := cache.Key(server, tool, args)
	if value, ok := g.cache.Get(key); ok {
		g.logger.Debug("cache hit", "server", server, "tool", tool)
		if g.metrics != nil {
			g.metrics.ObserveCall(server, tool, "cached", 0)
		}
		return value, nil
	}

	if desc, ok := g.sup.Descriptor(server); ok && !desc.Allows(tool) {
		if g.metrics != nil {
			g.metrics.ObserveCall(server, tool, "denied", 0)
		}
		return nil, &domain.ToolNotAllowedError{
			Server:  server,
			Tool:    tool,
			Allowed: desc.AllowedTools,
		}
	}

	value, err, shared := g.flight.Do(key, func() (any, error) {
		// Lazy start: a no-op when the server is already up.
		if err := g.sup.Start(ctx, server); err != nil {
			return nil, err
		}

		started := time.Now()
		result, err := g.sup.CallTool(ctx, server, tool, args)
		if err != nil {
			if g.metrics != nil {
				g.metrics.ObserveCall(server, tool, "error", 0)
			}
			return nil, err
		}
		if g.metrics != nil {
			g.metrics.ObserveCall(server, tool, "ok", time.Since(started))
		}

		g.cache.Set(key, result, 0)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		g.logger.Debug("coalesced duplicate in-flight call", "server", server, "tool", tool)
	}
	return value, nil
}

// ListTools discovers the tools server advertises, starting it if
// needed. Listings are not cached: they are cheap and servers may grow
// tools at runtime.
func (g *Gateway) ListTools(ctx context.Context, server string) ([]domain.ToolInfo, error) {
	if err := g.sup.Start(ctx, server); err != nil {
		return nil, err
	}
	return g.sup.ListTools(ctx, server)
}

// Status reports per-server liveness plus cache statistics.
func (g *Gateway) Status() map[string]domain.ServerStatus {
	return g.sup.Status()
}

// CacheStats exposes the cache counters for diagnostics surfaces.
func (g *Gateway) CacheStats() cache.Stats {
	return g.cache.Stats()
}

// Shutdown stops every running server and flushes the cache. The
// gateway is reusable after a subsequent Initialize.
func (g *Gateway) Shutdown() {
	g.sup.StopAll()
	g.cache.Flush()
	g.logger.Info("gateway shut down")
}
