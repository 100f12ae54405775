package mcp

import (
	"fmt"
	"sort"
	"strings"
)

// SplitQualifiedTool resolves a fully-qualified "<server>_<tool>" name
// against the known server names. Server names may themselves contain
// underscores, so the longest matching server prefix wins.
func SplitQualifiedTool(qualified string, serverNames []string) (serverName, toolName string, err error) {
	// Longest first so "data_warehouse" beats "data".
	sorted := make([]string, len(serverNames))
	copy(sorted, serverNames)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	for _, server := range sorted {
		prefix := server + "_"
		if strings.HasPrefix(qualified, prefix) && len(qualified) > len(prefix) {
			return server, qualified[len(prefix):], nil
		}
	}

	// Fall back to the first underscore when no server matches — the
	// caller decides whether an unknown server is an error.
	if idx := strings.Index(qualified, "_"); idx > 0 && idx < len(qualified)-1 {
		return qualified[:idx], qualified[idx+1:], nil
	}
	return "", "", fmt.Errorf("invalid tool name %q: expected <server>_<tool>", qualified)
}

// QualifiedToolName joins a server and tool name into the client-facing
// form.
func QualifiedToolName(serverName, toolName string) string {
	return serverName + "_" + toolName
}
