package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// These variables can be set at build time via ldflags:
//
//	go build -ldflags="-X github.com/muurk/homelight/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/homelight/internal/version.Commit=abc123"
//
// Otherwise they come from the VCS stamp in the build info, falling back to
// a "dev" version with the build timestamp.
var (
	// Version is the semantic version of the application
	Version = ""
	// Commit is the git commit hash
	Commit = ""
)

func init() {
	if Version == "" || Commit == "" {
		info, ok := debug.ReadBuildInfo()
		if ok {
			applyBuildSettings(info.Settings)
		}
	}

	if Version == "" {
		Version = fmt.Sprintf("dev-%s", time.Now().Format("20060102-150405"))
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// applyBuildSettings fills Version and Commit from vcs.* build settings
func applyBuildSettings(settings []debug.BuildSetting) {
	var revision, modified, vcsTime string
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value
		case "vcs.time":
			vcsTime = setting.Value
		}
	}

	if Commit == "" && revision != "" {
		Commit = revision
		if len(Commit) > 7 {
			Commit = Commit[:7]
		}
		if modified == "true" {
			Commit += "-dirty"
		}
	}

	// Build info carries no tags, so the best we can do is a dated dev version
	if Version == "" && vcsTime != "" {
		if t, err := time.Parse(time.RFC3339, vcsTime); err == nil {
			Version = fmt.Sprintf("dev-%s", t.Format("20060102"))
		}
	}
}

// Full returns the version with commit and Go runtime
func Full() string {
	return fmt.Sprintf("%s (commit: %s, %s)", Version, Commit, runtime.Version())
}

// UserAgent identifies homelight clients in HTTP requests
func UserAgent() string {
	return "homelight/" + Version
}
