package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the current version of the application.
	// It is intended to be set at build time using -ldflags.
	// Falls back to the module version embedded by go install.
	Version = "dev"

	// Commit is the VCS revision, set with -ldflags or read from build info.
	Commit = ""
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	if Commit == "" {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				Commit = setting.Value
				break
			}
		}
	}
}

// String returns a one-line build description.
func String() string {
	commit := Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if commit == "" {
		return fmt.Sprintf("letsping %s (%s, %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	}
	return fmt.Sprintf("letsping %s (%s, %s, %s/%s)", Version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
