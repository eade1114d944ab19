// Package version provides the nsredis version string.
// The version is set at build time via -ldflags.
package version

import "fmt"

// Version is the current nsredis version.
// Override at build time: go build -ldflags "-X github.com/flashdb/nsredis/internal/version.Version=1.1.0"
var Version = "1.0.0"

// BuildTime is the build timestamp.
// Override at build time: go build -ldflags "-X github.com/flashdb/nsredis/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var BuildTime = "unknown"

// String returns "v<Version> (built <BuildTime>)".
func String() string {
	return fmt.Sprintf("v%s (built %s)", Version, BuildTime)
}
