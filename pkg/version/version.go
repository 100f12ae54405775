// Package version identifies the running build. The commit hash comes from
// the module's VCS stamp when available, from an -ldflags override in
// container builds, and falls back to "dev" otherwise.
package version

import "runtime/debug"

// AppName is used in version strings and in the MCP client handshake.
const AppName = "chatloom"

// overrideCommit can be set at link time:
//
//	go build -ldflags "-X github.com/chatloom/chatloom/pkg/version.overrideCommit=$(git rev-parse HEAD)"
var overrideCommit string

// GitCommit is the short commit hash of this build, or "dev".
var GitCommit = resolveCommit()

// Full returns "<app>/<commit>", suitable for logs and user-agent strings.
func Full() string {
	return AppName + "/" + GitCommit
}

func resolveCommit() string {
	if overrideCommit != "" {
		return shorten(overrideCommit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return shorten(setting.Value)
			}
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
