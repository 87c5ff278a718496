package orchestrator

import (
	"maps"

	"github.com/aretw0/toolbus/pkg/domain"
)

// synthesize reduces the accumulated results to the run's final data.
// Unknown modes fall back to the default with a warning rather than
// failing a run whose work already succeeded.
func (r *run) synthesize(s *domain.Synthesis) map[string]any {
	mode := ""
	if s != nil {
		mode = s.Mode
	}

	switch mode {
	case "", "default":
		return r.synthesizeDefault()

	case "select":
		out := make(map[string]any, len(s.Select))
		for key, ref := range s.Select {
			if value, ok := resolveRef(ref, r.results); ok {
				out[key] = value
			} else {
				r.logger.Debug("synthesis selector unresolved, omitting", "key", key, "ref", ref)
			}
		}
		return out

	case "merge":
		// Shallow merge in execution order; later executors overwrite
		// earlier ones on key collision.
		out := make(map[string]any)
		for _, name := range r.order {
			maps.Copy(out, r.results[name].Data)
		}
		return out

	default:
		r.logger.Warn("unknown synthesis mode, using default", "mode", mode)
		return r.synthesizeDefault()
	}
}

// synthesizeDefault keys each executor's Data by its name.
func (r *run) synthesizeDefault() map[string]any {
	out := make(map[string]any, len(r.order))
	for _, name := range r.order {
		out[name] = r.results[name].Data
	}
	return out
}
