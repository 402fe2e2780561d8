package core

// Version is the application version, set at build time via ldflags:
//
//	go build -ldflags "-X devoid_client/core.Version=$(git describe --tags --always)" .
//
// If not set at build time, defaults to "dev".
var Version = "dev"

// GitCommit is the git commit hash, set at build time via ldflags:
//
//	go build -ldflags "-X devoid_client/core.GitCommit=$(git rev-parse --short HEAD)" .
var GitCommit = "unknown"

// GetVersionInfo returns a formatted version information string.
//
// Example: "v1.0.0 (commit abc1234)"
func GetVersionInfo() string {
	return Version + " (commit " + GitCommit + ")"
}
