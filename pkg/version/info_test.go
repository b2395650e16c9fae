package version

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestCurrent_Defaults(t *testing.T) {
	oldVersion, oldCommit, oldBuildTime := AppVersion, GitCommit, BuildTime
	t.Cleanup(func() {
		AppVersion, GitCommit, BuildTime = oldVersion, oldCommit, oldBuildTime
	})
	AppVersion, GitCommit, BuildTime = "", "", " "

	info := Current("")
	if info.Service != Unknown {
		t.Fatalf("expected service %q, got %q", Unknown, info.Service)
	}
	if info.Version != DevelopmentVersion {
		t.Fatalf("expected version %q, got %q", DevelopmentVersion, info.Version)
	}
	if info.Commit == "" {
		t.Fatal("expected a commit placeholder")
	}
	if info.BuildTime != Unknown {
		t.Fatalf("expected build_time %q, got %q", Unknown, info.BuildTime)
	}
	if info.GoVersion != runtime.Version() || info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Fatalf("unexpected runtime fields %+v", info)
	}
}

func TestCurrent_LinkerValues(t *testing.T) {
	oldVersion, oldCommit := AppVersion, GitCommit
	t.Cleanup(func() { AppVersion, GitCommit = oldVersion, oldCommit })
	AppVersion, GitCommit = "v0.3.0", "abc123"

	info := Current("queuevisor")
	if info.Version != "v0.3.0" || info.Commit != "abc123" {
		t.Fatalf("unexpected info %+v", info)
	}
	if !strings.HasPrefix(info.String(), "queuevisor v0.3.0 (commit=abc123") {
		t.Fatalf("unexpected String() %q", info.String())
	}
}

func TestInfo_ParseBuildTime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	parsed, ok := Info{BuildTime: now.Format(time.RFC3339)}.ParseBuildTime()
	if !ok || !parsed.Equal(now) {
		t.Fatalf("expected %s, got %s (ok=%v)", now, parsed, ok)
	}
	if _, ok := (Info{BuildTime: Unknown}).ParseBuildTime(); ok {
		t.Fatal("unknown build time must not parse")
	}
	if _, ok := (Info{BuildTime: "yesterday"}).ParseBuildTime(); ok {
		t.Fatal("malformed build time must not parse")
	}
}
