package orchestrator

import (
	"context"

	"github.com/chatloom/chatloom/pkg/mcp"
	"github.com/chatloom/chatloom/pkg/tools"
)

// GroupResolver answers which groups a user belongs to. Backed by a
// directory service in production; StaticGroupResolver serves tests and
// single-tenant deployments.
type GroupResolver interface {
	Groups(ctx context.Context, userEmail string) ([]string, error)
}

// StaticGroupResolver maps user emails to group lists.
type StaticGroupResolver map[string][]string

var _ GroupResolver = (StaticGroupResolver)(nil)

func (r StaticGroupResolver) Groups(_ context.Context, userEmail string) ([]string, error) {
	return r[userEmail], nil
}

// FilterAuthorizedTools drops tools whose server restricts access to groups
// the user is not in. The canvas pseudo-tool is always admitted. On any
// lookup failure the selection passes through unfiltered — availability over
// strictness, matching the server-side ACL as the real gate.
func (o *Orchestrator) FilterAuthorizedTools(ctx context.Context, selected []string, userEmail string) []string {
	if len(selected) == 0 {
		return selected
	}

	var memberOf []string
	if o.groups != nil {
		groups, err := o.groups.Groups(ctx, userEmail)
		if err != nil {
			o.logger.Warn("Group lookup failed, passing tools through unfiltered",
				"user", userEmail, "error", err)
			return selected
		}
		memberOf = groups
	}

	serverNames := o.registry.Names()
	out := make([]string, 0, len(selected))
	for _, name := range selected {
		if name == tools.CanvasToolName {
			out = append(out, name)
			continue
		}
		server, _, err := mcp.SplitQualifiedTool(name, serverNames)
		if err != nil {
			o.logger.Warn("Cannot resolve tool's server, admitting", "tool", name, "error", err)
			out = append(out, name)
			continue
		}
		cfg, err := o.registry.Get(server)
		if err != nil {
			out = append(out, name)
			continue
		}
		if memberOfAny(memberOf, cfg.AllowedGroups) {
			out = append(out, name)
			continue
		}
		o.logger.Info("Tool dropped by authorization policy",
			"tool", name, "server", server, "user", userEmail)
	}
	return out
}

// memberOfAny reports whether the user holds any of the required groups.
// An empty requirement admits everyone.
func memberOfAny(memberOf, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, have := range memberOf {
		for _, want := range required {
			if have == want {
				return true
			}
		}
	}
	return false
}
