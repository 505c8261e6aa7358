// Package version carries the build identity stamped into the binary at
// release time. It deliberately imports nothing so any package can read it.
package version

// Overridden via -ldflags at build time, e.g.
// -X github.com/raveheart1/specflow/internal/version.Version=v1.2.0
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// IsDevBuild reports whether the binary runs without a stamped release
// version.
func IsDevBuild() bool {
	return Version == "dev"
}
