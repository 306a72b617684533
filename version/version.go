package version

const (
	// RSCoreSemVer is the semantic version of the roundstep software.
	RSCoreSemVer = "0.1.0"
)

var (
	// GitCommit is the current HEAD, set via ldflags at build time.
	GitCommit string

	// Version is the full version string reported by the binary.
	Version = RSCoreSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}
