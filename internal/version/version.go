// Package version provides the kvwal version string, set at build time via
// -ldflags.
package version

// Version is the current kvwal version.
// Override at build time: go build -ldflags "-X github.com/kvwal/kvwal/internal/version.Version=0.2.0"
var Version = "0.1.0"

// BuildTime is the build timestamp.
// Override at build time: go build -ldflags "-X github.com/kvwal/kvwal/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var BuildTime = "unknown"
