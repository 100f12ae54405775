package llm

import (
	"encoding/json"
	"fmt"

	"github.com/chatloom/chatloom/pkg/models"
)

// NormalizeToolCall converts a tool call of any provider shape into the
// canonical wire mapping {id, type, function:{name, arguments}} expected
// when replaying an assistant turn back to the LLM. Accepted inputs:
//
//   - models.ToolCall (or *models.ToolCall)
//   - a map with top-level id/name/arguments keys
//   - a map already nested as {id, type, function:{name, arguments}}
//
// Arguments are rendered as a JSON string, matching the OpenAI wire form.
func NormalizeToolCall(call any) (map[string]any, error) {
	switch v := call.(type) {
	case models.ToolCall:
		return normalizeModelCall(v)
	case *models.ToolCall:
		if v == nil {
			return nil, fmt.Errorf("nil tool call")
		}
		return normalizeModelCall(*v)
	case map[string]any:
		return normalizeMapCall(v)
	default:
		return nil, fmt.Errorf("unsupported tool call shape %T", call)
	}
}

// NormalizeToolCalls converts a batch, failing on the first bad entry.
func NormalizeToolCalls(calls []models.ToolCall) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(calls))
	for i, call := range calls {
		normalized, err := NormalizeToolCall(call)
		if err != nil {
			return nil, fmt.Errorf("tool call %d: %w", i, err)
		}
		out = append(out, normalized)
	}
	return out, nil
}

func normalizeModelCall(call models.ToolCall) (map[string]any, error) {
	args := call.RawArguments
	if args == "" {
		raw, err := json.Marshal(call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("marshaling arguments for %s: %w", call.Name, err)
		}
		args = string(raw)
	}
	return map[string]any{
		"id":   call.ID,
		"type": "function",
		"function": map[string]any{
			"name":      call.Name,
			"arguments": args,
		},
	}, nil
}

func normalizeMapCall(m map[string]any) (map[string]any, error) {
	id, _ := m["id"].(string)

	name, _ := m["name"].(string)
	args := m["arguments"]
	if fn, ok := m["function"].(map[string]any); ok {
		if n, ok := fn["name"].(string); ok {
			name = n
		}
		args = fn["arguments"]
	}
	if name == "" {
		return nil, fmt.Errorf("tool call %q has no function name", id)
	}

	var argStr string
	switch a := args.(type) {
	case nil:
		argStr = "{}"
	case string:
		argStr = a
	default:
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshaling arguments for %s: %w", name, err)
		}
		argStr = string(raw)
	}

	return map[string]any{
		"id":   id,
		"type": "function",
		"function": map[string]any{
			"name":      name,
			"arguments": argStr,
		},
	}, nil
}

// ParseToolCallArguments decodes a JSON argument string into a map,
// tolerating empty input. Provider-side argument strings are sometimes
// blank for zero-argument tools.
func ParseToolCallArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parsing tool call arguments: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
