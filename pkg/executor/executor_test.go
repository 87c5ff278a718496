package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/toolbus/pkg/domain"
)

type fakeInvoker struct {
	initCalls  int
	initErr    error
	callResult any
	callErr    error
}

func (f *fakeInvoker) Initialize(ctx context.Context, names []string) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeInvoker) CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	return f.callResult, f.callErr
}

func TestInit_Idempotent(t *testing.T) {
	inv := &fakeInvoker{}
	b := NewBase("demo", []string{"fs"}, Deps{Invoker: inv})

	for range 3 {
		if err := b.Init(context.Background()); err != nil {
			t.Fatalf("Init: %v", err)
		}
	}
	if inv.initCalls != 1 {
		t.Fatalf("Init must only reach the gateway once, got %d", inv.initCalls)
	}
}

func TestInit_StartFailureIsNotFatal(t *testing.T) {
	inv := &fakeInvoker{initErr: errors.New("server down")}
	b := NewBase("demo", []string{"fs"}, Deps{Invoker: inv})

	if err := b.Init(context.Background()); err != nil {
		t.Fatalf("a startup failure must downgrade to a warning, got %v", err)
	}
}

func TestWrap_AttributesFailure(t *testing.T) {
	b := NewBase("discovery", nil, Deps{})

	cause := errors.New("boom")
	err := b.Wrap("scan", cause)

	var execErr *domain.ExecutorError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *domain.ExecutorError, got %T", err)
	}
	if execErr.Executor != "discovery" || execErr.Op != "scan" {
		t.Fatalf("wrong attribution: %+v", execErr)
	}
	if !errors.Is(err, cause) {
		t.Fatal("original error must stay reachable via errors.Is")
	}

	if b.Wrap("scan", nil) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}

func TestCall_WrapsGatewayErrors(t *testing.T) {
	inv := &fakeInvoker{callErr: domain.ErrServerNotRunning}
	b := NewBase("metrics", []string{"fs"}, Deps{Invoker: inv})

	_, err := b.Call(context.Background(), "fs", "read", nil)
	var execErr *domain.ExecutorError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected wrapped executor error, got %T", err)
	}
	if !errors.Is(err, domain.ErrServerNotRunning) {
		t.Fatal("cause must remain matchable")
	}
}
