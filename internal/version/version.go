// Package version exposes build metadata set via -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.3 -X .../internal/version.Commit=abc1234"
var (
	Version = "dev"
	Commit  = "unknown"
)

// Info returns the full version string.
func Info() string {
	return fmt.Sprintf("uptimo %s (%s)", Version, Commit)
}

// Short returns just the version number.
func Short() string {
	return Version
}
