package version

// Set at build time with -ldflags "-X github.com/camtune/camtune/pkg/version.Version=...".
var (
	Version   = "UNKNOWN"
	GitCommit = "UNKNOWN"
)
