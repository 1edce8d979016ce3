package fetchup

import (
	"fmt"
	"runtime"
)

// Build metadata, overridable with -ldflags "-X github.com/sleepcha/Fetchup.GitCommit=...".
var (
	Version   = "0.4.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

// Keys of the map returned by GetVersionInfo.
const (
	VersionKey   = "version"
	CommitKey    = "commit"
	BuildDateKey = "build_date"
	GoVersionKey = "go_version"
)

// GetVersionInfo returns the build metadata keyed by the *Key constants.
func GetVersionInfo() map[string]string {
	return map[string]string{
		VersionKey:   Version,
		CommitKey:    GitCommit,
		BuildDateKey: BuildDate,
		GoVersionKey: GoVersion,
	}
}

// GetVersion renders GetVersionInfo on one line.
func GetVersion() string {
	info := GetVersionInfo()
	return fmt.Sprintf("Fetchup v%s (commit: %s, built: %s, go: %s)",
		info[VersionKey], info[CommitKey], info[BuildDateKey], info[GoVersionKey])
}
