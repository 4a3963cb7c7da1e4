package main

import (
	"os"
	"runtime"

	"github.com/solsol/solsol/internal/version"
)

var (
	Version   string = "0.1.0-dev"
	BuildTime string = "unknown"
	GitCommit string = "unknown"
	GoVersion string = "unknown"
)

func init() {
	// Window toolkits require the UI loop on the main OS thread.
	runtime.LockOSThread()
	version.SetInfo(Version, BuildTime, GitCommit, GoVersion)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
