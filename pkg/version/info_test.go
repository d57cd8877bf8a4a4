package version

import (
	"runtime"
	"testing"
	"time"
)

func overrideBuild(t *testing.T, appVersion, commit, buildTime string) {
	t.Helper()
	oldVersion, oldCommit, oldBuildTime := AppVersion, GitCommit, BuildTime
	t.Cleanup(func() {
		AppVersion = oldVersion
		GitCommit = oldCommit
		BuildTime = oldBuildTime
	})
	AppVersion, GitCommit, BuildTime = appVersion, commit, buildTime
}

func TestCurrent_Defaults(t *testing.T) {
	overrideBuild(t, "", "  ", "")

	info := Current("")

	if info.Service != Unknown {
		t.Fatalf("expected service %q, got %q", Unknown, info.Service)
	}
	if info.Version != DevelopmentVersion || !info.Development() {
		t.Fatalf("expected development version, got %q", info.Version)
	}
	if info.Commit != Unknown {
		t.Fatalf("expected commit %q, got %q", Unknown, info.Commit)
	}
	if info.BuildTime != Unknown {
		t.Fatalf("expected build_time %q, got %q", Unknown, info.BuildTime)
	}
	if info.GoVersion != runtime.Version() {
		t.Fatalf("expected go version %q, got %q", runtime.Version(), info.GoVersion)
	}
}

func TestCurrent_Release(t *testing.T) {
	overrideBuild(t, "v1.4.0", "abc123", "2026-03-01T09:00:00Z")

	info := Current("jobqueue")

	if info.Development() {
		t.Fatal("expected release build")
	}
	if got := info.String(); got != "jobqueue@v1.4.0 (commit=abc123, build_time=2026-03-01T09:00:00Z)" {
		t.Fatalf("unexpected string %q", got)
	}
	fields := info.LogFields()
	if len(fields) != 8 || fields[1] != "jobqueue" || fields[3] != "v1.4.0" {
		t.Fatalf("unexpected log fields %v", fields)
	}
}

func TestInfo_ParseBuildTime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	info := Info{BuildTime: now.Format(time.RFC3339)}

	parsed, ok := info.ParseBuildTime()
	if !ok {
		t.Fatalf("expected build time to be parsed")
	}
	if !parsed.Equal(now) {
		t.Fatalf("expected %s, got %s", now, parsed)
	}

	for _, raw := range []string{"", Unknown, "yesterday"} {
		if _, ok := (Info{BuildTime: raw}).ParseBuildTime(); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
