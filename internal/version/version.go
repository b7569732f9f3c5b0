// Package version holds build metadata, set at link time with
//
//	-ldflags "-X github.com/banshee-data/pickplace/internal/version.Version=..."
package version

var (
	// Version is the release version of the controller.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
