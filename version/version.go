// Package version reports the version of hydra and the VCS metadata the Go toolchain embeds in the binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// These variables can be set via ldflags at build time. Empty values are filled from the embedded build info.
var (
	// Version is the semantic version of the build.
	Version = "0.1.0"
	// GitCommit is the git commit hash.
	GitCommit = ""
	// GitCommitTime is the RFC 3339 timestamp of the git commit.
	GitCommitTime = ""
	// GitTreeDirty is "true" when the tree had uncommitted changes.
	GitTreeDirty = ""
)

// Info contains the full version information for the build.
type Info struct {
	Version       string
	GitCommit     string
	GitCommitTime string
	GitTreeDirty  bool
	GoVersion     string
}

// GetInfo returns the version information of the running binary.
func GetInfo() Info {
	info := Info{
		Version:       Version,
		GitCommit:     GitCommit,
		GitCommitTime: GitCommitTime,
		GitTreeDirty:  GitTreeDirty == "true",
		GoVersion:     runtime.Version(),
	}
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		info = info.withBuildSettings(buildInfo.Settings)
	}
	return info
}

// withBuildSettings fills the VCS fields that were not set explicitly from the build settings.
func (i Info) withBuildSettings(settings []debug.BuildSetting) Info {
	for _, kv := range settings {
		switch kv.Key {
		case "vcs.revision":
			if i.GitCommit == "" {
				i.GitCommit = kv.Value
			}
		case "vcs.time":
			if i.GitCommitTime == "" {
				i.GitCommitTime = kv.Value
			}
		case "vcs.modified":
			if GitTreeDirty == "" {
				i.GitTreeDirty = kv.Value == "true"
			}
		}
	}
	return i
}

// ShortCommit returns the first 7 characters of the git commit hash.
func (i Info) ShortCommit() string {
	if len(i.GitCommit) >= 7 {
		return i.GitCommit[:7]
	}
	return i.GitCommit
}

// FormattedTime returns the commit time in a human-readable format.
func (i Info) FormattedTime() string {
	if i.GitCommitTime == "" {
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339, i.GitCommitTime)
	if err != nil {
		return i.GitCommitTime
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}

// commit returns the short commit with a dirty marker.
func (i Info) commit() string {
	c := i.ShortCommit()
	if c != "" && i.GitTreeDirty {
		c += "-dirty"
	}
	return c
}

// String returns a formatted multi-line version string.
func (i Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "hydra version %s\n", i.Version)
	if c := i.commit(); c != "" {
		fmt.Fprintf(&sb, "  Commit:     %s\n", c)
	}
	if i.GitCommitTime != "" {
		fmt.Fprintf(&sb, "  Built:      %s\n", i.FormattedTime())
	}
	fmt.Fprintf(&sb, "  Go version: %s\n", i.GoVersion)
	return sb.String()
}

// Short returns a single-line version string suitable for --version output.
func (i Info) Short() string {
	if c := i.commit(); c != "" {
		return i.Version + "+" + c
	}
	return i.Version
}
