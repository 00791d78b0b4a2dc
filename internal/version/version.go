// Package version holds build information injected with ldflags:
//
//	go build -ldflags "-X github.com/Tyrowin/relaychat/internal/version.Version=1.0.0 \
//	                   -X github.com/Tyrowin/relaychat/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

var (
	// Version is the release version.
	Version = "dev"

	// Commit is the short git hash.
	Commit = "unknown"
)

// String returns "version (commit)".
func String() string {
	return Version + " (" + Commit + ")"
}
