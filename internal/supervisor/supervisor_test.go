package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/toolbus/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript drops a /bin/sh worker script into a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// stubWorkerScript answers the handshake (request IDs start at 1 per
// connection, so the replies can be hardcoded), answers one tools/call
// with id 2, then idles until stdin closes.
const stubWorkerScript = `
read line
printf '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26"}}\n'
read line # notifications/initialized
while read line; do
  printf '{"jsonrpc":"2.0","id":2,"result":{"echoed":true}}\n'
done
`

func stubDescriptors(t *testing.T) map[string]domain.ServerDescriptor {
	script := writeScript(t, stubWorkerScript)
	return map[string]domain.ServerDescriptor{
		"stub": {
			Enabled: true,
			Type:    domain.LaunchExternal,
			Command: "/bin/sh",
			Args:    []string{script},
		},
		"off": {
			Enabled: false,
			Type:    domain.LaunchExternal,
			Command: "/bin/sh",
		},
	}
}

func TestStart_DescriptorErrors(t *testing.T) {
	s := New(stubDescriptors(t))
	defer s.Shutdown()

	err := s.Start(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrServerUnknown)

	err = s.Start(context.Background(), "off")
	require.ErrorIs(t, err, domain.ErrServerDisabled)
}

func TestStartCallStop(t *testing.T) {
	s := New(stubDescriptors(t), WithHandshakeTimeout(2*time.Second))
	defer s.Shutdown()

	ctx := context.Background()
	require.NoError(t, s.Start(ctx, "stub"))

	st := s.Status()["stub"]
	require.True(t, st.Running)
	require.NotZero(t, st.PID)
	assert.Zero(t, st.Retries, "retry counter resets after a successful handshake")

	// Starting again is a no-op: same process keeps running.
	require.NoError(t, s.Start(ctx, "stub"))
	assert.Equal(t, st.PID, s.Status()["stub"].PID)

	result, err := s.CallTool(ctx, "stub", "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok, "expected object result, got %T", result)
	assert.Equal(t, true, m["echoed"])

	require.NoError(t, s.Stop("stub"))
	assert.False(t, s.Status()["stub"].Running)

	// Double stop never errors.
	require.NoError(t, s.Stop("stub"))

	_, err = s.CallTool(ctx, "stub", "echo", nil)
	require.ErrorIs(t, err, domain.ErrServerNotRunning)
}

func TestCrashRecovery_BackoffThenCeiling(t *testing.T) {
	var mu sync.Mutex
	var delays []time.Duration

	descriptors := map[string]domain.ServerDescriptor{
		"crashy": {
			Enabled: true,
			Type:    domain.LaunchExternal,
			Command: "/bin/false",
		},
	}
	s := New(descriptors,
		WithHandshakeTimeout(time.Second),
		WithSleep(func(d time.Duration) {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
		}),
	)
	defer s.Shutdown()

	require.NoError(t, s.Start(context.Background(), "crashy"))

	// Wait for the retry ceiling: three recorded backoff delays and a
	// server left stopped with its counter at the ceiling.
	deadline := time.Now().Add(10 * time.Second)
	for {
		mu.Lock()
		n := len(delays)
		mu.Unlock()
		st := s.Status()["crashy"]
		if n == 3 && !st.Running && st.Retries == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recovery never settled: delays=%v status=%+v", delays, st)
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestStopAll_CancelsPendingRestart(t *testing.T) {
	// Crashes on first launch, then behaves like the stub worker.
	marker := filepath.Join(t.TempDir(), "crashed-once")
	script := writeScript(t, `
if [ ! -f "`+marker+`" ]; then
  : > "`+marker+`"
  exit 1
fi
`+stubWorkerScript)

	descriptors := map[string]domain.ServerDescriptor{
		"flaky": {
			Enabled: true,
			Type:    domain.LaunchExternal,
			Command: "/bin/sh",
			Args:    []string{script},
		},
	}

	release := make(chan struct{})
	slept := make(chan time.Duration, 4)
	s := New(descriptors,
		WithHandshakeTimeout(time.Second),
		WithSleep(func(d time.Duration) {
			slept <- d
			<-release
		}),
	)
	defer s.Shutdown()

	require.NoError(t, s.Start(context.Background(), "flaky"))

	// The first launch crashes; wait for the restart to enter its
	// backoff window.
	select {
	case <-slept:
	case <-time.After(5 * time.Second):
		t.Fatal("no restart was scheduled")
	}

	// Stopping everything during the backoff must cancel the restart.
	s.StopAll()
	close(release)
	s.restarts.Wait()

	assert.False(t, s.Status()["flaky"].Running, "server revived after StopAll")

	// The supervisor stays usable: an explicit Start brings the server
	// back (the script behaves from its second launch on).
	require.NoError(t, s.Start(context.Background(), "flaky"))
	assert.True(t, s.Status()["flaky"].Running)
}

func TestStart_HandshakeDoesNotBlockOtherServers(t *testing.T) {
	descriptors := stubDescriptors(t)
	descriptors["slow"] = domain.ServerDescriptor{
		Enabled: true,
		Type:    domain.LaunchExternal,
		Command: "/bin/sh",
		Args:    []string{writeScript(t, "exec sleep 30\n")},
	}
	s := New(descriptors, WithHandshakeTimeout(5*time.Second))
	defer s.Shutdown()

	ctx := context.Background()
	require.NoError(t, s.Start(ctx, "stub"))

	// "slow" never answers the handshake; Start blocks on it for the
	// whole handshake timeout.
	go func() { _ = s.Start(ctx, "slow") }()
	time.Sleep(200 * time.Millisecond)

	begin := time.Now()
	result, err := s.CallTool(ctx, "stub", "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Less(t, time.Since(begin), time.Second,
		"call to a healthy server stalled behind another server's handshake")

	begin = time.Now()
	s.Status()
	assert.Less(t, time.Since(begin), time.Second)
}

func TestRetryCounter_ResetOnHealthyStart(t *testing.T) {
	s := New(stubDescriptors(t), WithHandshakeTimeout(2*time.Second))
	defer s.Shutdown()

	s.mu.Lock()
	s.retries["stub"] = 2
	s.mu.Unlock()

	require.NoError(t, s.Start(context.Background(), "stub"))
	assert.Zero(t, s.Status()["stub"].Retries)
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{8, 10 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoffDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestSubstituteEnv(t *testing.T) {
	host := map[string]string{"TOKEN": "s3cret", "HOME_DIR": "/home/u"}
	s := New(nil, WithEnvLookup(func(name string) (string, bool) {
		v, ok := host[name]
		return v, ok
	}))

	got := s.substituteEnv("git", map[string]string{
		"AUTH":   "Bearer ${TOKEN}",
		"PREFIX": "${HOME_DIR}/repos",
		"GONE":   "${NOT_SET}",
		"PLAIN":  "literal",
	})
	sort.Strings(got)

	assert.Equal(t, []string{
		"AUTH=Bearer s3cret",
		"GONE=",
		"PLAIN=literal",
		"PREFIX=/home/u/repos",
	}, got)
}

func TestResolveCommand_Embedded(t *testing.T) {
	s := New(nil)
	path, args, err := s.resolveCommand(domain.ServerDescriptor{
		Name: "builtin",
		Type: domain.LaunchEmbedded,
		Args: []string{"--verbose"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Equal(t, []string{"worker", "builtin", "--verbose"}, args)
}

func TestResolveCommand_ExternalRequiresCommand(t *testing.T) {
	s := New(nil)
	_, _, err := s.resolveCommand(domain.ServerDescriptor{Type: domain.LaunchExternal})
	require.Error(t, err)
}
