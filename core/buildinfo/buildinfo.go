// Package buildinfo carries version metadata injected at link time:
//
//	go build -ldflags "-X 'github.com/m3rciful/drawbot/core/buildinfo.Version=v0.3.0' \
//	    -X 'github.com/m3rciful/drawbot/core/buildinfo.Commit=$(git rev-parse --short HEAD)'"
package buildinfo

var (
	// Version reports the release tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// String renders version, commit and date for operator-facing messages.
func String() string {
	s := Version + " (" + Commit
	if Date != "" {
		s += ", " + Date
	}
	return s + ")"
}
