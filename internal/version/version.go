package version

import "fmt"

// Set at build time with -ldflags "-X httpgate/internal/version.Version=...".
var (
	Version   = "dev"
	BuildDate = "unknown"
	Commit    = "unknown"
)

func GetVersion() string {
	return fmt.Sprintf("httpgate %s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

func GetShortVersion() string {
	return Version
}

// ServerToken is the product token sent in the Server response header.
func ServerToken() string {
	if Version == "" {
		return "httpgate"
	}
	return "httpgate/" + Version
}
