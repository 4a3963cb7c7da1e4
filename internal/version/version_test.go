package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func restore(t *testing.T) {
	t.Helper()
	v, bt, gc, gv := Version, BuildTime, GitCommit, GoVersion
	t.Cleanup(func() {
		Version, BuildTime, GitCommit, GoVersion = v, bt, gc, gv
	})
}

func TestSetInfo(t *testing.T) {
	restore(t)

	SetInfo("1.0.0", "2026-01-01T00:00:00Z", "abc123", "go1.26.0")

	assert.Equal(t, "1.0.0", Version)
	assert.Equal(t, "2026-01-01T00:00:00Z", BuildTime)
	assert.Equal(t, "abc123", GitCommit)
	assert.Equal(t, "go1.26.0", GoVersion)
}

func TestSetInfoEmptyValues(t *testing.T) {
	restore(t)

	Version = "test-version"
	GoVersion = "go1.26.1"
	SetInfo("", "", "", "unknown")

	assert.Equal(t, "test-version", Version)
	assert.Equal(t, "go1.26.1", GoVersion, "an unset ldflag keeps the runtime version")
}

func TestFormatStartupMessage(t *testing.T) {
	restore(t)

	Version = "1.2.3"
	BuildTime = "2026-06-15T10:30:00Z"
	GitCommit = "deadbeef"

	assert.Equal(t, "solsol 1.2.3 started (build 2026-06-15T10:30:00Z, commit deadbeef)", FormatStartupMessage())
}

func TestInfo(t *testing.T) {
	restore(t)

	SetInfo("2.0.0", "today", "cafe", "go1.26.0")
	assert.Equal(t, "Version: 2.0.0\nBuild Time: today\nGit Commit: cafe\nGo Version: go1.26.0", Info())
}
