// Package version exposes the build identity of the stope binary.
// The variables are overridden at link time:
//
//	go build -ldflags "-X .../pkg/version.Version=v1.2.3"
package version

import "runtime/debug"

// Build identity, injected via ldflags. Defaults describe a source build.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Init fills in the commit from embedded build info when the linker did
// not set it.
func Init() {
	if Commit != "unknown" {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			Commit = setting.Value
		}
	}
}
