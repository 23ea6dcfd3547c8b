// Package version identifies the extreload build and the notification
// protocol it speaks. Version, GitCommit, and BuildDate are injected at
// compile time via -ldflags.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Name is the binary name and the product token of the user agent.
const Name = "extreload"

// Protocol is the revision of the host, relay and page message set. It
// changes whenever an action or field is added or removed.
const Protocol = 1

// Build-time values injected via -ldflags.
var (
	version   = "dev"
	gitCommit = "none"
	buildDate = "unknown"
)

// Info holds the build metadata for the binary.
type Info struct {
	Version   string `json:"version"`
	Protocol  int    `json:"protocol"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetInfo returns the current build information.
func GetInfo() Info {
	return Info{
		Version:   version,
		Protocol:  Protocol,
		GitCommit: shortCommit(gitCommit),
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable single-line version string.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (protocol %d, commit: %s, built: %s, %s %s)",
		Name, i.Version, i.Protocol, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
}

// UserAgent identifies the relay to the build host, for example
// "extreload/1.2.0 protocol/1".
func (i Info) UserAgent() string {
	return fmt.Sprintf("%s/%s protocol/%d", Name, i.Version, i.Protocol)
}

// ParseUserAgent returns the version of an extreload user agent. Other
// clients, such as a browser running the injected script, report false.
func ParseUserAgent(ua string) (string, bool) {
	for _, token := range strings.Fields(ua) {
		if v, ok := strings.CutPrefix(token, Name+"/"); ok && v != "" {
			return v, true
		}
	}

	return "", false
}

// JSON returns the version info as indented JSON.
func (i Info) JSON() (string, error) {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling version info: %w", err)
	}

	return string(data), nil
}

// shortCommit truncates a commit SHA to 7 characters.
func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}

	return commit
}
