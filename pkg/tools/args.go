package tools

import (
	"regexp"
	"strings"

	"github.com/chatloom/chatloom/pkg/models"
)

// storageKeyPattern matches the "<timestamp>_<hash>_<filename>" storage key
// form so display names can be reduced to the original filename.
var storageKeyPattern = regexp.MustCompile(`^[0-9]{9,}_[0-9a-f]{6,}_(.+)$`)

// filenameKeys are the argument fields sanitized for UI display.
var filenameKeys = map[string]bool{
	"filename":   true,
	"file_names": true,
	"file_url":   true,
	"file_urls":  true,
}

// shapeArguments applies the context-injection rules to a tool call's parsed
// arguments and filters the result against the schema. schema may carry nil
// properties when resolution failed; the filter then only drops the
// injection-bookkeeping keys.
func (e *Executor) shapeArguments(args map[string]any, schema *toolSchema, userEmail string, files map[string]models.FileRef) map[string]any {
	shaped := make(map[string]any, len(args)+4)
	for k, v := range args {
		shaped[k] = v
	}

	schemaKnown := schema != nil && schema.properties != nil

	if userEmail != "" && (!schemaKnown || schema.hasProperty("username")) {
		shaped["username"] = userEmail
	}

	e.rewriteFilenames(shaped, userEmail, files)

	if schemaKnown {
		for k := range shaped {
			if !schema.hasProperty(k) && !injectedFileKey(k) {
				delete(shaped, k)
			}
		}
		return shaped
	}
	for k := range shaped {
		if injectedFileKey(k) {
			delete(shaped, k)
		}
	}
	return shaped
}

// injectedFileKey reports whether k is filename-rewrite bookkeeping. The
// bookkeeping rides along to the tool even when its schema does not declare
// it; only a tool with no resolvable schema loses it.
func injectedFileKey(k string) bool {
	return strings.HasPrefix(k, "original_") || k == "file_url" || k == "file_urls"
}

// rewriteFilenames swaps session filenames for signed download URLs,
// preserving the originals under original_filename / original_file_names.
func (e *Executor) rewriteFilenames(args map[string]any, userEmail string, files map[string]models.FileRef) {
	if e.signer == nil || len(files) == 0 {
		return
	}

	if name, ok := args["filename"].(string); ok {
		if url, ok := e.signFile(userEmail, name, files); ok {
			args["filename"] = url
			args["original_filename"] = name
			if _, exists := args["file_url"]; !exists {
				args["file_url"] = url
			}
		}
	}

	rawNames, ok := args["file_names"]
	if !ok {
		return
	}
	names := toStringSlice(rawNames)
	if names == nil {
		return
	}
	urls := make([]any, len(names))
	originals := make([]any, len(names))
	rewrote := false
	for i, name := range names {
		urls[i] = name
		originals[i] = name
		if url, ok := e.signFile(userEmail, name, files); ok {
			urls[i] = url
			rewrote = true
		}
	}
	if !rewrote {
		return
	}
	args["file_names"] = urls
	args["original_file_names"] = originals
	if _, exists := args["file_urls"]; !exists {
		args["file_urls"] = urls
	}
}

func (e *Executor) signFile(userEmail, filename string, files map[string]models.FileRef) (string, bool) {
	ref, ok := files[filename]
	if !ok || ref.Key == "" {
		return "", false
	}
	url, err := e.signer.SignedURL(userEmail, ref.Key)
	if err != nil {
		e.logger.Warn("Failed to sign download URL", "filename", filename, "error", err)
		return "", false
	}
	return url, true
}

func toStringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		return nil
	}
}

// SanitizeArgumentsForUI reduces filename-bearing argument values to clean
// basenames for display. The dispatched arguments are untouched.
func SanitizeArgumentsForUI(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if !filenameKeys[k] {
			out[k] = v
			continue
		}
		switch value := v.(type) {
		case string:
			out[k] = sanitizeDisplayName(value)
		case []any:
			cleaned := make([]any, len(value))
			for i, item := range value {
				if s, ok := item.(string); ok {
					cleaned[i] = sanitizeDisplayName(s)
				} else {
					cleaned[i] = item
				}
			}
			out[k] = cleaned
		case []string:
			cleaned := make([]any, len(value))
			for i, s := range value {
				cleaned[i] = sanitizeDisplayName(s)
			}
			out[k] = cleaned
		default:
			out[k] = v
		}
	}
	return out
}

// sanitizeDisplayName strips query strings, URL paths, and the storage-key
// prefix from a filename or URL.
func sanitizeDisplayName(value string) string {
	if idx := strings.Index(value, "?"); idx >= 0 {
		value = value[:idx]
	}
	if idx := strings.LastIndex(value, "/"); idx >= 0 {
		value = value[idx+1:]
	}
	if m := storageKeyPattern.FindStringSubmatch(value); m != nil {
		value = m[1]
	}
	return value
}
