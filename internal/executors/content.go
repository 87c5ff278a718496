// Package executors holds the built-in task executors shipped with
// toolbus. They consume worker tools through the gateway and produce
// summarized results; none of them returns raw listings or file bodies.
package executors

import "encoding/json"

// structuredContent extracts the structured payload from a tools/call
// result. Workers speaking the stdio protocol reply with
// {"content":[...],"structuredContent":{...}}; older ones put a JSON
// string into the first text content block instead.
func structuredContent(result any) (map[string]any, bool) {
	root, ok := result.(map[string]any)
	if !ok {
		return nil, false
	}
	if sc, ok := root["structuredContent"].(map[string]any); ok {
		return sc, true
	}
	if text, ok := textContent(result); ok {
		var out map[string]any
		if err := json.Unmarshal([]byte(text), &out); err == nil {
			return out, true
		}
	}
	return nil, false
}

// textContent extracts the first text block from a tools/call result.
func textContent(result any) (string, bool) {
	root, ok := result.(map[string]any)
	if !ok {
		return "", false
	}
	blocks, ok := root["content"].([]any)
	if !ok {
		return "", false
	}
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if block["type"] == "text" {
			if text, ok := block["text"].(string); ok {
				return text, true
			}
		}
	}
	return "", false
}

// isToolError reports whether a tools/call result flags an error.
func isToolError(result any) (string, bool) {
	root, ok := result.(map[string]any)
	if !ok {
		return "", false
	}
	if flag, ok := root["isError"].(bool); !ok || !flag {
		return "", false
	}
	msg, _ := textContent(result)
	return msg, true
}
