// Package version exposes build metadata injected at link time.
package version

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

const (
	// Unknown is used when build metadata is not provided.
	Unknown = "unknown"
	// DevelopmentVersion is the default version in local builds.
	DevelopmentVersion = "dev"
)

var (
	// AppVersion is intended to be overridden at build time:
	// go build -ldflags="-X github.com/nimburion/jobqueue/pkg/version.AppVersion=v1.2.3"
	AppVersion = DevelopmentVersion

	// GitCommit is intended to be overridden at build time.
	GitCommit = Unknown

	// BuildTime is intended to be overridden at build time (RFC3339 recommended).
	BuildTime = Unknown
)

// Info contains version metadata for the running binary.
type Info struct {
	Service   string `json:"service" yaml:"service"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Current returns the current build version metadata.
func Current(serviceName string) Info {
	return Info{
		Service:   normalizeOrDefault(serviceName, Unknown),
		Version:   normalizeOrDefault(AppVersion, DevelopmentVersion),
		Commit:    normalizeOrDefault(GitCommit, Unknown),
		BuildTime: normalizeOrDefault(BuildTime, Unknown),
		GoVersion: runtime.Version(),
	}
}

// Development reports whether the binary was built without a release version.
func (i Info) Development() bool {
	return i.Version == DevelopmentVersion
}

// ParseBuildTime parses BuildTime as RFC3339 if present.
func (i Info) ParseBuildTime() (time.Time, bool) {
	if i.BuildTime == "" || i.BuildTime == Unknown {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, i.BuildTime)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// LogFields returns the metadata as logger key-value pairs.
func (i Info) LogFields() []any {
	return []any{"service", i.Service, "version", i.Version, "commit", i.Commit, "build_time", i.BuildTime}
}

// String returns a log-friendly representation.
func (i Info) String() string {
	return fmt.Sprintf("%s@%s (commit=%s, build_time=%s)", i.Service, i.Version, i.Commit, i.BuildTime)
}

func normalizeOrDefault(v, fallback string) string {
	norm := strings.TrimSpace(v)
	if norm == "" {
		return fallback
	}
	return norm
}
