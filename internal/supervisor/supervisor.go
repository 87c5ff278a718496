// Package supervisor owns the lifecycle of tool server processes: spawn,
// crash detection, restart with exponential backoff, and shutdown. It is
// the sole owner of the process/connection/retry tables; callers only
// ever see the methods, never the maps.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aretw0/toolbus/internal/logging"
	"github.com/aretw0/toolbus/internal/observability"
	"github.com/aretw0/toolbus/internal/transport"
	"github.com/aretw0/toolbus/pkg/domain"
)

const (
	// DefaultStopGrace is how long Stop waits for a worker to honor
	// SIGTERM before escalating to SIGKILL.
	DefaultStopGrace = 5 * time.Second
	// DefaultHandshakeTimeout bounds the initialize attempt; peers that
	// don't implement the handshake still work afterwards.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultMaxRetries is the crash-recovery ceiling per server.
	DefaultMaxRetries = 3

	baseBackoff = time.Second
	maxBackoff  = 10 * time.Second
)

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// handle is one live worker process. Exactly one handle exists per
// server name at a time.
type handle struct {
	name     string
	cmd      *exec.Cmd
	conn     *transport.Conn
	started  time.Time
	stopping atomic.Bool
	exited   chan struct{} // closed once cmd.Wait returns
}

// Supervisor runs one worker process per configured server name.
type Supervisor struct {
	mu          sync.Mutex
	descriptors map[string]domain.ServerDescriptor
	handles     map[string]*handle
	retries     map[string]int
	// gens counts Stop calls per server. A scheduled crash-recovery
	// restart captures the generation and abandons itself when Stop or
	// StopAll bumped it during the backoff window.
	gens     map[string]uint64
	shutdown bool

	logger  *slog.Logger
	metrics *observability.Metrics

	stopGrace        time.Duration
	handshakeTimeout time.Duration
	maxRetries       int

	lookupEnv func(string) (string, bool)
	sleep     func(time.Duration)
	restarts  sync.WaitGroup
	done      chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithMetrics records restart counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithStopGrace overrides the SIGTERM grace period.
func WithStopGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopGrace = d
		}
	}
}

// WithHandshakeTimeout overrides the initialize deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// WithMaxRetries overrides the crash-recovery ceiling.
func WithMaxRetries(n int) Option {
	return func(s *Supervisor) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithEnvLookup substitutes the host environment source. Tests use it.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(s *Supervisor) { s.lookupEnv = fn }
}

// WithSleep substitutes the backoff sleep. Tests use it to observe the
// restart delays without waiting them out.
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// New creates a Supervisor over the given descriptors. Nothing is
// started until Start is called.
func New(descriptors map[string]domain.ServerDescriptor, opts ...Option) *Supervisor {
	s := &Supervisor{
		descriptors:      make(map[string]domain.ServerDescriptor, len(descriptors)),
		handles:          make(map[string]*handle),
		retries:          make(map[string]int),
		gens:             make(map[string]uint64),
		logger:           logging.NewNop(),
		stopGrace:        DefaultStopGrace,
		handshakeTimeout: DefaultHandshakeTimeout,
		maxRetries:       DefaultMaxRetries,
		lookupEnv:        os.LookupEnv,
		done:             make(chan struct{}),
	}
	// The default backoff sleep aborts early on shutdown so Shutdown
	// never has to wait out a pending restart delay.
	s.sleep = func(d time.Duration) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-s.done:
		}
	}
	for name, d := range descriptors {
		d.Name = name
		s.descriptors[name] = d
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Descriptor returns the static configuration for name.
func (s *Supervisor) Descriptor(name string) (domain.ServerDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.descriptors[name]
	return d, ok
}

// EnabledServers lists every descriptor with the enabled flag set.
func (s *Supervisor) EnabledServers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.descriptors))
	for name, d := range s.descriptors {
		if d.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// Start spawns the worker for name and performs the handshake. It is a
// no-op when the server is already running.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	return s.start(ctx, name, nil)
}

func (s *Supervisor) start(ctx context.Context, name string, gen *uint64) error {
	h, err := s.spawn(name, gen)
	if err != nil || h == nil {
		return err
	}

	// Handshake outside the supervisor lock: a slow or hung worker must
	// not stall Status, Stop, or calls to the healthy servers. Failures
	// are swallowed: servers that don't implement initialize still
	// answer tool calls. Only a completed handshake proves the worker
	// healthy, so only then does the retry counter reset.
	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()
	if err := h.conn.Handshake(hctx, s.handshakeTimeout); err != nil {
		s.logger.Warn("handshake failed, continuing without it", "server", name, "error", err)
		return nil
	}
	s.mu.Lock()
	s.retries[name] = 0
	s.mu.Unlock()
	return nil
}

// spawn is the locked half of start: descriptor checks, process launch,
// handle bookkeeping. A nil handle with a nil error means there is
// nothing to do — the server is already running, or the restart that
// asked for it was cancelled by an intervening Stop.
func (s *Supervisor) spawn(name string, gen *uint64) (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return nil, fmt.Errorf("start %s: supervisor is shut down", name)
	}
	if gen != nil && s.gens[name] != *gen {
		s.logger.Info("restart cancelled, server was stopped during backoff", "server", name)
		return nil, nil
	}
	if _, running := s.handles[name]; running {
		return nil, nil
	}

	desc, ok := s.descriptors[name]
	if !ok {
		return nil, fmt.Errorf("start %s: %w", name, domain.ErrServerUnknown)
	}
	if !desc.Enabled {
		return nil, fmt.Errorf("start %s: %w", name, domain.ErrServerDisabled)
	}

	path, args, err := s.resolveCommand(desc)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = desc.Dir
	cmd.Env = append(os.Environ(), s.substituteEnv(name, desc.Env)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &domain.SpawnError{Server: name, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &domain.SpawnError{Server: name, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &domain.SpawnError{Server: name, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &domain.SpawnError{Server: name, Err: err}
	}

	h := &handle{
		name:    name,
		cmd:     cmd,
		conn:    transport.New(stdout, stdin, transport.WithLogger(s.logger.With("server", name))),
		started: time.Now(),
		exited:  make(chan struct{}),
	}
	s.handles[name] = h

	go forwardStderr(s.logger.With("server", name), stderr)
	go s.wait(h)

	s.logger.Info("worker started", "server", name, "pid", cmd.Process.Pid)
	return h, nil
}

// Stop terminates the worker for name: close the connection, SIGTERM,
// SIGKILL after the grace period. Stopping a server that is not running
// is a no-op; internal state is always cleared.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	h := s.handles[name]
	delete(s.handles, name)
	// Bumping the generation cancels any restart still in its backoff
	// window, whether or not a handle is live right now.
	s.gens[name]++
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	s.stopHandle(h)
	s.logger.Info("worker stopped", "server", name)
	return nil
}

func (s *Supervisor) stopHandle(h *handle) {
	h.stopping.Store(true)
	_ = h.conn.Close()

	if h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-h.exited:
		return
	case <-time.After(s.stopGrace):
	}

	s.logger.Warn("worker ignored SIGTERM, killing", "server", h.name)
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	<-h.exited
}

// CallTool invokes tool on the named running server.
func (s *Supervisor) CallTool(ctx context.Context, name, tool string, args map[string]any) (any, error) {
	s.mu.Lock()
	h := s.handles[name]
	s.mu.Unlock()

	if h == nil {
		return nil, fmt.Errorf("call %s/%s: %w", name, tool, domain.ErrServerNotRunning)
	}
	return h.conn.Request(ctx, "tools/call", map[string]any{
		"name":      tool,
		"arguments": args,
	}, 0)
}

// ListTools asks the named running server for its tool inventory.
func (s *Supervisor) ListTools(ctx context.Context, name string) ([]domain.ToolInfo, error) {
	s.mu.Lock()
	h := s.handles[name]
	s.mu.Unlock()

	if h == nil {
		return nil, fmt.Errorf("list tools %s: %w", name, domain.ErrServerNotRunning)
	}

	raw, err := h.conn.Request(ctx, "tools/list", nil, 0)
	if err != nil {
		return nil, err
	}

	// Round-trip through JSON rather than walking the any-typed tree.
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("list tools %s: %w", name, err)
	}
	var listing struct {
		Tools []domain.ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(payload, &listing); err != nil {
		return nil, fmt.Errorf("list tools %s: malformed listing: %w", name, err)
	}
	return listing.Tools, nil
}

// Status reports liveness per configured server. Observability only.
func (s *Supervisor) Status() map[string]domain.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.ServerStatus, len(s.descriptors))
	for name := range s.descriptors {
		st := domain.ServerStatus{Retries: s.retries[name]}
		if h, ok := s.handles[name]; ok {
			st.Running = true
			st.PID = h.cmd.Process.Pid
			st.Uptime = time.Since(h.started)
		}
		out[name] = st
	}
	return out
}

// StopAll stops every running server and cancels pending restarts, but
// leaves the supervisor usable: a later Start brings servers back. The
// gateway's shutdown path uses this so re-initialization stays possible.
func (s *Supervisor) StopAll() {
	// Every configured name, not just the live handles: a server in its
	// crash-recovery backoff window has no handle yet must not revive
	// afterwards.
	s.mu.Lock()
	names := make([]string, 0, len(s.descriptors))
	for name := range s.descriptors {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		_ = s.Stop(name)
	}
}

// Shutdown stops every running server and refuses further starts.
// Pending crash-recovery restarts are waited out so no process outlives
// the supervisor.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if !s.shutdown {
		s.shutdown = true
		close(s.done)
	}
	running := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		running = append(running, h)
	}
	s.handles = make(map[string]*handle)
	s.mu.Unlock()

	for _, h := range running {
		s.stopHandle(h)
	}
	s.restarts.Wait()
}

// wait observes one worker process until it exits and triggers crash
// recovery for exits the supervisor did not ask for.
func (s *Supervisor) wait(h *handle) {
	err := h.cmd.Wait()
	close(h.exited)

	if h.stopping.Load() {
		return
	}
	s.logger.Warn("worker exited unexpectedly", "server", h.name, "error", err)
	s.recover(h.name, h)
}

// recover implements the restart policy: exponential backoff starting
// at one second, capped at ten, at most maxRetries attempts. Past the
// ceiling the server is left stopped and the next caller sees
// ErrServerNotRunning.
func (s *Supervisor) recover(name string, dead *handle) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	// Drop the dead handle, but only if it is still the current one.
	if cur, ok := s.handles[name]; ok && cur == dead {
		_ = cur.conn.Close()
		delete(s.handles, name)
	}

	attempt := s.retries[name]
	if attempt >= s.maxRetries {
		s.mu.Unlock()
		s.logger.Error("retry ceiling reached, leaving server stopped",
			"server", name, "retries", attempt)
		return
	}
	s.retries[name] = attempt + 1
	gen := s.gens[name]
	s.restarts.Add(1)
	s.mu.Unlock()

	delay := backoffDelay(attempt)
	s.logger.Info("scheduling restart", "server", name, "attempt", attempt+1, "delay", delay)
	if s.metrics != nil {
		s.metrics.Restarts.WithLabelValues(name).Inc()
	}

	go func() {
		defer s.restarts.Done()
		s.sleep(delay)
		if err := s.start(context.Background(), name, &gen); err != nil {
			s.logger.Error("restart failed", "server", name, "error", err)
		}
	}()
}

func backoffDelay(attempt int) time.Duration {
	d := baseBackoff << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// resolveCommand maps a descriptor to an executable invocation. An
// embedded server re-invokes the running binary in worker mode; an
// external one runs whatever the descriptor says.
func (s *Supervisor) resolveCommand(desc domain.ServerDescriptor) (string, []string, error) {
	switch desc.Type {
	case domain.LaunchEmbedded:
		exe, err := os.Executable()
		if err != nil {
			return "", nil, fmt.Errorf("resolve own executable: %w", err)
		}
		return exe, append([]string{"worker", desc.Name}, desc.Args...), nil
	case domain.LaunchExternal, "":
		if desc.Command == "" {
			return "", nil, fmt.Errorf("descriptor has no command")
		}
		return desc.Command, desc.Args, nil
	default:
		return "", nil, fmt.Errorf("unknown launch type %q", desc.Type)
	}
}

// substituteEnv expands ${NAME} references against the host environment.
// Unset variables substitute to empty and are warned about, matching
// what an operator would want to hear before a worker mysteriously
// misbehaves.
func (s *Supervisor) substituteEnv(server string, env map[string]string) []string {
	out := make([]string, 0, len(env))
	for key, value := range env {
		expanded := envPattern.ReplaceAllStringFunc(value, func(ref string) string {
			name := envPattern.FindStringSubmatch(ref)[1]
			v, ok := s.lookupEnv(name)
			if !ok {
				s.logger.Warn("environment variable not set, substituting empty",
					"server", server, "variable", name)
				return ""
			}
			return v
		})
		out = append(out, key+"="+expanded)
	}
	return out
}

// forwardStderr drains a worker's stderr into the host log so crash
// output is never lost down a pipe.
func forwardStderr(logger *slog.Logger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 16*1024), 256*1024)
	for scanner.Scan() {
		logger.Debug("worker stderr", "line", scanner.Text())
	}
}
