package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/aretw0/toolbus/pkg/domain"
)

// resolveRef resolves one "$step.dotted.path" reference against prior
// results. The first segment names the executor; the rest descend into
// its Data field (or a map view of the whole result when Data is nil),
// one segment at a time. Any absent segment makes the whole reference
// unresolved, which callers treat as "omit the key", never an error.
//
// A value without the $ prefix is not a reference and passes through
// as a literal.
func resolveRef(ref string, results map[string]*domain.Result) (any, bool) {
	if !strings.HasPrefix(ref, "$") {
		return ref, true
	}

	segments := strings.Split(strings.TrimPrefix(ref, "$"), ".")
	if segments[0] == "" {
		return nil, false
	}

	res, ok := results[segments[0]]
	if !ok {
		return nil, false
	}

	var current any
	if res.Data != nil {
		current = res.Data
	} else {
		current = resultAsMap(res)
	}

	for _, segment := range segments[1:] {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// resultAsMap exposes the full result object for references against
// executors that produced no Data field.
func resultAsMap(res *domain.Result) map[string]any {
	payload, err := json.Marshal(res)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return map[string]any{}
	}
	return out
}
