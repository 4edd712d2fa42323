// Package version reports the hopper release.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var embedded string

// Override replaces the embedded release when set at link time:
//
//	go build -ldflags "-X github.com/ShayCichocki/hopper/internal/version.Override=1.2.3"
var Override string

// Get returns the release, preferring Override over the VERSION file.
func Get() string {
	if v := strings.TrimSpace(Override); v != "" {
		return v
	}
	return strings.TrimSpace(embedded)
}

// Revision returns the VCS revision recorded by the Go toolchain, shortened
// to 12 characters, or "" when the binary was built without VCS info.
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}
