// Package version holds build information injected through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// SetInfo overrides the build information. Empty values are ignored.
func SetInfo(v, bt, gc, gv string) {
	if v != "" {
		Version = v
	}
	if bt != "" {
		BuildTime = bt
	}
	if gc != "" {
		GitCommit = gc
	}
	if gv != "" && gv != "unknown" {
		GoVersion = gv
	}
}

// FormatStartupMessage is the first line of the log pane.
func FormatStartupMessage() string {
	return fmt.Sprintf("solsol %s started (build %s, commit %s)", Version, BuildTime, GitCommit)
}

// Info is the multi-line text printed by the version command.
func Info() string {
	return fmt.Sprintf("Version: %s\nBuild Time: %s\nGit Commit: %s\nGo Version: %s",
		Version, BuildTime, GitCommit, GoVersion)
}
