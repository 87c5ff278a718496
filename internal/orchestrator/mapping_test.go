package orchestrator

import (
	"testing"
	"time"

	"github.com/aretw0/toolbus/pkg/domain"
)

func TestResolveRef(t *testing.T) {
	results := map[string]*domain.Result{
		"discovery": {
			Executor:  "discovery",
			Timestamp: time.Now(),
			Data: map[string]any{
				"projectType": "python",
				"nested":      map[string]any{"deep": map[string]any{"value": 7}},
			},
		},
		"bare": {Executor: "bare", Timestamp: time.Now()},
	}

	cases := []struct {
		name string
		ref  string
		want any
		ok   bool
	}{
		{"top level field", "$discovery.projectType", "python", true},
		{"deep path", "$discovery.nested.deep.value", 7, true},
		{"missing intermediate", "$discovery.missing.field", nil, false},
		{"missing leaf", "$discovery.nested.deep.nope", nil, false},
		{"unknown step", "$ghost.x", nil, false},
		{"whole data", "$discovery", map[string]any(nil), true},
		{"no data falls back to raw object", "$bare.executor", "bare", true},
		{"literal passes through", "plain", "plain", true},
		{"bare dollar", "$", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := resolveRef(tc.ref, results)
			if ok != tc.ok {
				t.Fatalf("resolveRef(%q) ok = %v, want %v", tc.ref, ok, tc.ok)
			}
			if !tc.ok {
				return
			}
			switch want := tc.want.(type) {
			case map[string]any:
				if _, isMap := got.(map[string]any); !isMap && want != nil {
					t.Fatalf("resolveRef(%q) = %T, want map", tc.ref, got)
				}
			default:
				if got != tc.want {
					t.Fatalf("resolveRef(%q) = %v, want %v", tc.ref, got, tc.want)
				}
			}
		})
	}
}
