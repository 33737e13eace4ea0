// Package version holds build version metadata.
package version

// Version is the frontdesk release version, overridden at build time via
// -ldflags "-X github.com/mvail/frontdesk/internal/version.Version=...".
var Version = "0.3.0-dev"
