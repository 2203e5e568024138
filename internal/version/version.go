// Package version holds the build version, injected with -ldflags at release time.
package version

// Version is the build version string. Format: vX.Y.Z or vX.Y.Z-dev.
var Version = "v0.4.0-dev"

// BuildTime is the build timestamp.
var BuildTime = "unknown"

// String returns "Version (BuildTime)".
func String() string {
	return Version + " (" + BuildTime + ")"
}
