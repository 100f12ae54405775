package mcp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseToolArguments turns a raw argument string from an LLM into a
// structured parameter map. Models do not reliably emit JSON — text-based
// agent loops produce YAML-ish blocks, bare key-value lines, or plain
// strings — so parsing cascades, first successful form wins:
//
//  1. JSON object → map
//  2. JSON non-object (string, number, array) → {"input": value}
//  3. YAML with nested structure → map
//  4. "key: value" / "key=value" pairs, comma or newline separated
//  5. anything else → {"input": raw}
//
// Empty input yields an empty map for zero-argument tools.
func ParseToolArguments(input string) map[string]any {
	input = strings.TrimSpace(input)
	if input == "" {
		return map[string]any{}
	}

	if result, ok := parseJSONArguments(input); ok {
		return result
	}
	if result, ok := parseYAMLArguments(input); ok {
		return result
	}
	if result, ok := parseKeyValueArguments(input); ok {
		return result
	}
	return map[string]any{"input": input}
}

func parseJSONArguments(input string) (map[string]any, bool) {
	// Quick reject: the first byte must be able to start a JSON value.
	b := input[0]
	jsonStart := b == '{' || b == '[' || b == '"' ||
		(b >= '0' && b <= '9') || b == '-' ||
		b == 't' || b == 'f' || b == 'n'
	if !jsonStart {
		return nil, false
	}

	var raw any
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return nil, false
	}
	if m, ok := raw.(map[string]any); ok {
		return m, true
	}
	return map[string]any{"input": raw}, true
}

// parseYAMLArguments accepts YAML only when it carries nested structure.
// Flat "key: value" lines go through the key-value parser instead, avoiding
// false positives on prose that happens to contain a colon.
func parseYAMLArguments(input string) (map[string]any, bool) {
	var result map[string]any
	if err := yaml.Unmarshal([]byte(input), &result); err != nil {
		return nil, false
	}
	if len(result) == 0 {
		return nil, false
	}
	for _, v := range result {
		switch v.(type) {
		case []any, map[string]any:
			return result, true
		}
	}
	return nil, false
}

func parseKeyValueArguments(input string) (map[string]any, bool) {
	normalized := strings.ReplaceAll(input, "\n", ",")

	result := make(map[string]any)
	for _, part := range strings.Split(normalized, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := splitPair(part)
		if !ok {
			// One unparseable segment rejects the whole input; the raw
			// string fallback is safer than a half-parsed map.
			return nil, false
		}
		result[key] = coerceScalar(value)
	}
	if len(result) == 0 {
		return nil, false
	}
	return result, true
}

func splitPair(part string) (key, value string, ok bool) {
	for _, sep := range []string{":", "="} {
		if idx := strings.Index(part, sep); idx > 0 {
			k := strings.TrimSpace(part[:idx])
			v := strings.TrimSpace(part[idx+1:])
			if k != "" && !strings.Contains(k, " ") {
				return k, v, true
			}
		}
	}
	return "", "", false
}

// coerceScalar converts string values to their natural JSON types.
func coerceScalar(s string) any {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		// NaN/Inf are not valid JSON; keep the string form.
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return s
		}
		return f
	}
	return s
}
