package gateway_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/toolbus/internal/cache"
	"github.com/aretw0/toolbus/internal/gateway"
	"github.com/aretw0/toolbus/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSupervisor records calls and serves canned answers.
type fakeSupervisor struct {
	mu          sync.Mutex
	descriptors map[string]domain.ServerDescriptor
	running     map[string]bool
	startErr    map[string]error
	callErr     error
	callDelay   time.Duration

	starts int
	calls  atomic.Int64

	handler func(server, tool string, args map[string]any) any
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		descriptors: make(map[string]domain.ServerDescriptor),
		running:     make(map[string]bool),
		startErr:    make(map[string]error),
		handler: func(server, tool string, args map[string]any) any {
			return map[string]any{"server": server, "tool": tool}
		},
	}
}

func (f *fakeSupervisor) addServer(name string, allowed ...string) {
	f.descriptors[name] = domain.ServerDescriptor{
		Name:         name,
		Enabled:      true,
		AllowedTools: allowed,
	}
}

func (f *fakeSupervisor) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErr[name]; err != nil {
		return err
	}
	if !f.running[name] {
		f.starts++
		f.running[name] = true
	}
	return nil
}

func (f *fakeSupervisor) CallTool(ctx context.Context, name, tool string, args map[string]any) (any, error) {
	f.calls.Add(1)
	if f.callDelay > 0 {
		time.Sleep(f.callDelay)
	}
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.handler(name, tool, args), nil
}

func (f *fakeSupervisor) ListTools(ctx context.Context, name string) ([]domain.ToolInfo, error) {
	return []domain.ToolInfo{{Name: "echo"}}, nil
}

func (f *fakeSupervisor) Status() map[string]domain.ServerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.ServerStatus)
	for name := range f.descriptors {
		out[name] = domain.ServerStatus{Running: f.running[name]}
	}
	return out
}

func (f *fakeSupervisor) Descriptor(name string) (domain.ServerDescriptor, bool) {
	d, ok := f.descriptors[name]
	return d, ok
}

func (f *fakeSupervisor) EnabledServers() []string {
	names := make([]string, 0, len(f.descriptors))
	for name, d := range f.descriptors {
		if d.Enabled {
			names = append(names, name)
		}
	}
	return names
}

func (f *fakeSupervisor) StopAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = make(map[string]bool)
}

func newGateway(t *testing.T, sup *fakeSupervisor) *gateway.Gateway {
	t.Helper()
	c := cache.New(cache.WithSweepInterval(time.Hour))
	t.Cleanup(c.Close)
	return gateway.New(sup, c)
}

func TestCallTool_CachesSuccess(t *testing.T) {
	sup := newFakeSupervisor()
	sup.addServer("fs")
	g := newGateway(t, sup)

	ctx := context.Background()
	args := map[string]any{"path": "/a"}

	first, err := g.CallTool(ctx, "fs", "read", args)
	require.NoError(t, err)
	second, err := g.CallTool(ctx, "fs", "read", args)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), sup.calls.Load(), "second call must come from cache")

	stats := g.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestCallTool_DistinctArgsAreDistinctEntries(t *testing.T) {
	sup := newFakeSupervisor()
	sup.addServer("fs")
	g := newGateway(t, sup)

	ctx := context.Background()
	_, err := g.CallTool(ctx, "fs", "read", map[string]any{"path": "/a"})
	require.NoError(t, err)
	_, err = g.CallTool(ctx, "fs", "read", map[string]any{"path": "/b"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), sup.calls.Load())
}

func TestCallTool_AllowList(t *testing.T) {
	sup := newFakeSupervisor()
	sup.addServer("git", "status")
	g := newGateway(t, sup)

	_, err := g.CallTool(context.Background(), "git", "diff", nil)
	require.ErrorIs(t, err, domain.ErrToolNotAllowed)

	// The message is informative: it names the offender and the
	// permitted set.
	assert.Contains(t, err.Error(), "diff")
	assert.Contains(t, err.Error(), "status")

	assert.Zero(t, sup.calls.Load(), "denied calls must not reach the process layer")

	// The permitted tool goes through.
	_, err = g.CallTool(context.Background(), "git", "status", nil)
	require.NoError(t, err)
}

func TestCallTool_LazyStart(t *testing.T) {
	sup := newFakeSupervisor()
	sup.addServer("fs")
	g := newGateway(t, sup)

	_, err := g.CallTool(context.Background(), "fs", "read", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sup.starts)
}

func TestCallTool_ErrorsPropagateUncachedAndUnchanged(t *testing.T) {
	sup := newFakeSupervisor()
	sup.addServer("fs")
	sup.callErr = domain.ErrServerNotRunning
	g := newGateway(t, sup)

	_, err := g.CallTool(context.Background(), "fs", "read", nil)
	require.ErrorIs(t, err, domain.ErrServerNotRunning)

	// Failures are not cached: the next call tries again.
	_, err = g.CallTool(context.Background(), "fs", "read", nil)
	require.ErrorIs(t, err, domain.ErrServerNotRunning)
	assert.Equal(t, int64(2), sup.calls.Load())
}

func TestCallTool_StartFailurePropagates(t *testing.T) {
	sup := newFakeSupervisor()
	sup.addServer("fs")
	spawnErr := &domain.SpawnError{Server: "fs", Err: errors.New("no such binary")}
	sup.startErr["fs"] = spawnErr
	g := newGateway(t, sup)

	_, err := g.CallTool(context.Background(), "fs", "read", nil)
	var got *domain.SpawnError
	require.ErrorAs(t, err, &got)
}

func TestCallTool_SingleFlight(t *testing.T) {
	sup := newFakeSupervisor()
	sup.addServer("fs")
	sup.callDelay = 50 * time.Millisecond
	g := newGateway(t, sup)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.CallTool(context.Background(), "fs", "read", map[string]any{"path": "/a"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), sup.calls.Load(),
		"concurrent identical misses must coalesce into one invocation")
}

func TestInitialize_BestEffort(t *testing.T) {
	sup := newFakeSupervisor()
	sup.addServer("ok1")
	sup.addServer("bad")
	sup.addServer("ok2")
	sup.startErr["bad"] = errors.New("boom")
	g := newGateway(t, sup)

	require.NoError(t, g.Initialize(context.Background(), nil))

	status := g.Status()
	assert.True(t, status["ok1"].Running)
	assert.True(t, status["ok2"].Running)
	assert.False(t, status["bad"].Running)
}

func TestShutdown_StopsServersAndFlushesCache(t *testing.T) {
	sup := newFakeSupervisor()
	sup.addServer("fs")
	g := newGateway(t, sup)

	ctx := context.Background()
	_, err := g.CallTool(ctx, "fs", "read", nil)
	require.NoError(t, err)

	g.Shutdown()
	assert.False(t, g.Status()["fs"].Running)
	assert.Zero(t, g.CacheStats().Size)

	// Re-initialize brings it back.
	require.NoError(t, g.Initialize(ctx, []string{"fs"}))
	assert.True(t, g.Status()["fs"].Running)
}
