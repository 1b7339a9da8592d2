// Engramd exposes the Engram memory kernel as a JSON-speaking CLI: search,
// propose/approve/reject writes, scene search, handoff continuity, and the
// sleep-cycle maintenance job.
package main

import (
	"os"
	"runtime/debug"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := Execute(version); err != nil {
		os.Exit(1)
	}
}
