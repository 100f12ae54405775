package tools

import "fmt"

const (
	// base64ScrubThreshold is the size above which any base64-looking string
	// is removed from LLM-visible content.
	base64ScrubThreshold = 10 * 1024
	// payloadKeyScrubThreshold applies to values under known payload keys.
	payloadKeyScrubThreshold = 1024
)

// payloadKeys are fields whose values are raw payloads regardless of shape.
var payloadKeys = map[string]bool{
	"b64":        true,
	"data":       true,
	"base64":     true,
	"image_data": true,
}

// scrubBase64 walks a normalized result mapping and replaces base64 payloads
// with size placeholders. Artifacts keep their original bytes; only the
// content string fed back to the LLM is scrubbed.
func scrubBase64(value any) any {
	return scrubValue("", value)
}

func scrubValue(key string, value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = scrubValue(k, item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = scrubValue("", item)
		}
		return out
	case string:
		if payloadKeys[key] && len(v) > payloadKeyScrubThreshold {
			return placeholder(len(v))
		}
		if len(v) > base64ScrubThreshold && looksLikeBase64(v) {
			return placeholder(len(v))
		}
		return v
	default:
		return value
	}
}

func placeholder(size int) string {
	return fmt.Sprintf("<%d bytes removed>", size)
}

// looksLikeBase64 reports whether the string consists entirely of the base64
// alphabet (plus whitespace).
func looksLikeBase64(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '+' || c == '/' || c == '=' || c == '-' || c == '_':
		case c == '\n' || c == '\r':
		default:
			return false
		}
	}
	return true
}
