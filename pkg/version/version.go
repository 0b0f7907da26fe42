// Package version reports the gateway build. Values come from -ldflags and
// fall back to the VCS stamps embedded by the Go toolchain.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const Component = "openrouter-proxy"

// Set with -ldflags, e.g.
// -X github.com/lkarlslund/openrouter-proxy/pkg/version.Version=v1.0.0
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
	Dirty   = ""
)

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"go"`
}

func Current() Build {
	b := Build{
		Version:   strings.TrimSpace(Version),
		Commit:    strings.TrimSpace(Commit),
		Date:      strings.TrimSpace(Date),
		Dirty:     strings.EqualFold(strings.TrimSpace(Dirty), "true"),
		GoVersion: runtime.Version(),
	}
	if b.Version == "" {
		b.Version = "dev"
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		b.fillFromVCS(bi.Settings)
	}
	return b
}

// fillFromVCS only sets fields that ldflags left empty.
func (b *Build) fillFromVCS(settings []debug.BuildSetting) {
	for _, s := range settings {
		v := strings.TrimSpace(s.Value)
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = v
			}
		case "vcs.time":
			if b.Date == "" {
				b.Date = v
			}
		case "vcs.modified":
			b.Dirty = b.Dirty || strings.EqualFold(v, "true")
		}
	}
}

// ShortCommit is the first 12 characters of the revision.
func (b Build) ShortCommit() string {
	if len(b.Commit) > 12 {
		return b.Commit[:12]
	}
	return b.Commit
}

// String renders "v1.2.3+0123456789ab+dirty".
func (b Build) String() string {
	parts := []string{b.Version}
	if c := b.ShortCommit(); c != "" {
		parts = append(parts, c)
	}
	if b.Dirty {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "+")
}

func String() string {
	return Current().String()
}

// Detailed is the multi-line text printed by the version command.
func Detailed() string {
	b := Current()
	out := fmt.Sprintf("%s %s\nGo: %s", Component, b.String(), b.GoVersion)
	if b.Date != "" {
		out += "\nBuilt: " + b.Date
	}
	return out
}

// UserAgent is sent upstream when the inbound request carries none.
func UserAgent() string {
	return Component + "/" + Current().Version
}
