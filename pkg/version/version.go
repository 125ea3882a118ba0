// Package version reports which build of cyrus is running. The commit hash
// comes from -ldflags when injected, else from the VCS stamp the Go
// toolchain embeds, else "dev".
package version

import "runtime/debug"

// AppName prefixes version strings and the tracker user agent.
const AppName = "cyrus"

// commit may be injected at link time for builds without a .git directory.
var commit string

// GitCommit is the abbreviated commit hash of this build, or "dev" when no
// build metadata is available (notably under `go test`).
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commit == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
					break
				}
			}
		}
	}
	switch {
	case commit == "":
		return "dev"
	case len(commit) > 8:
		return commit[:8]
	default:
		return commit
	}
}

// Full returns "cyrus/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
