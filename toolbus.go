package toolbus

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/toolbus/internal/cache"
	"github.com/aretw0/toolbus/internal/config"
	"github.com/aretw0/toolbus/internal/executors"
	"github.com/aretw0/toolbus/internal/gateway"
	"github.com/aretw0/toolbus/internal/logging"
	"github.com/aretw0/toolbus/internal/observability"
	"github.com/aretw0/toolbus/internal/orchestrator"
	"github.com/aretw0/toolbus/internal/supervisor"
	"github.com/aretw0/toolbus/pkg/domain"
	"github.com/aretw0/toolbus/pkg/executor"
)

// Version is the release version reported by the CLI and the handshake.
const Version = "0.1.0"

// Host is the high-level entry point for the toolbus library. It wires
// the supervisor, gateway and orchestrator together from one
// configuration and provides a simplified API for consumers.
type Host struct {
	config       *config.Config
	supervisor   *supervisor.Supervisor
	cache        *cache.Cache
	gateway      *gateway.Gateway
	orchestrator *orchestrator.Orchestrator
	registry     *prometheus.Registry
	logger       *slog.Logger
}

// Option defines a functional option for configuring the Host.
type Option func(*hostOptions)

type hostOptions struct {
	logger   *slog.Logger
	registry *prometheus.Registry
}

// WithLogger sets a custom structured logger for the host.
func WithLogger(logger *slog.Logger) Option {
	return func(o *hostOptions) { o.logger = logger }
}

// WithRegistry sets the Prometheus registry metrics are registered on.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *hostOptions) { o.registry = registry }
}

// New initializes a Host from an already-loaded configuration.
func New(cfg *config.Config, opts ...Option) *Host {
	options := &hostOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = logging.New(logging.ParseLevel(cfg.LogLevel))
	}
	if options.registry == nil {
		options.registry = prometheus.NewRegistry()
	}

	logger := options.logger
	metrics := observability.New(options.registry)

	cacheOpts := []cache.Option{
		cache.WithLogger(logger.With("component", "cache")),
		cache.WithMetrics(metrics),
	}
	if cfg.Cache.TTL > 0 {
		cacheOpts = append(cacheOpts, cache.WithDefaultTTL(cfg.Cache.TTL))
	}
	if cfg.Cache.MaxEntries > 0 {
		cacheOpts = append(cacheOpts, cache.WithMaxEntries(cfg.Cache.MaxEntries))
	}

	sup := supervisor.New(cfg.ServerDescriptors(),
		supervisor.WithLogger(logger.With("component", "supervisor")),
		supervisor.WithMetrics(metrics),
	)

	responseCache := cache.New(cacheOpts...)

	gw := gateway.New(sup, responseCache,
		gateway.WithLogger(logger.With("component", "gateway")),
		gateway.WithMetrics(metrics),
	)

	orch := orchestrator.New(executor.Deps{Invoker: gw},
		orchestrator.WithLogger(logger.With("component", "orchestrator")),
	)
	executors.RegisterBuiltins(orch)
	for _, wf := range cfg.Workflows {
		orch.RegisterWorkflow(*wf)
	}

	return &Host{
		config:       cfg,
		supervisor:   sup,
		cache:        responseCache,
		gateway:      gw,
		orchestrator: orch,
		registry:     options.registry,
		logger:       logger,
	}
}

// Load reads the configuration file at path and builds a Host from it.
func Load(path string, opts ...Option) (*Host, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...), nil
}

// Run executes the named workflow to completion.
func (h *Host) Run(ctx context.Context, task domain.Task) (*domain.RunResult, error) {
	return h.orchestrator.Execute(ctx, task)
}

// Workflows lists the registered workflow names.
func (h *Host) Workflows() []string {
	return h.orchestrator.Workflows()
}

// RegisterExecutor adds a custom executor factory alongside the
// built-in ones.
func (h *Host) RegisterExecutor(name string, factory executor.Factory) {
	h.orchestrator.RegisterExecutor(name, factory)
}

// Initialize eagerly starts the named servers, or every enabled one
// when names is empty. Failures are logged, not fatal; servers start
// lazily on first use anyway.
func (h *Host) Initialize(ctx context.Context, names []string) error {
	return h.gateway.Initialize(ctx, names)
}

// CallTool invokes a tool through the gateway, with caching and the
// allow-list applied.
func (h *Host) CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	return h.gateway.CallTool(ctx, server, tool, args)
}

// ListTools asks a server what tools it advertises.
func (h *Host) ListTools(ctx context.Context, server string) ([]domain.ToolInfo, error) {
	return h.gateway.ListTools(ctx, server)
}

// Status reports every configured server.
func (h *Host) Status() map[string]domain.ServerStatus {
	return h.gateway.Status()
}

// CacheStats exposes the response cache counters.
func (h *Host) CacheStats() cache.Stats {
	return h.gateway.CacheStats()
}

// Registry returns the Prometheus registry the host's metrics live on.
func (h *Host) Registry() *prometheus.Registry {
	return h.registry
}

// Config returns the configuration the host was built from.
func (h *Host) Config() *config.Config {
	return h.config
}

// Close tears the host down for good: stops every server, waits out
// in-flight restarts, and flushes the cache.
func (h *Host) Close() {
	h.gateway.Shutdown()
	h.supervisor.Shutdown()
	h.cache.Close()
}
