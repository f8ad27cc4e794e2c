package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func withBuildVars(t *testing.T, appVersion, commit, buildTime string, bi *debug.BuildInfo) {
	t.Helper()
	oldVersion, oldCommit, oldBuildTime, oldRead := AppVersion, GitCommit, BuildTime, readBuildInfo
	t.Cleanup(func() {
		AppVersion, GitCommit, BuildTime, readBuildInfo = oldVersion, oldCommit, oldBuildTime, oldRead
	})
	AppVersion, GitCommit, BuildTime = appVersion, commit, buildTime
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
}

func TestCurrent(t *testing.T) {
	vcs := &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-03-01T12:00:00Z"},
	}}

	tests := []struct {
		name       string
		service    string
		appVersion string
		commit     string
		buildTime  string
		buildInfo  *debug.BuildInfo
		want       Info
	}{
		{
			name: "defaults without build info",
			want: Info{Service: Unknown, Version: DevelopmentVersion, Commit: Unknown, BuildTime: Unknown},
		},
		{
			name:       "ldflags win",
			service:    "mds",
			appVersion: "v1.4.0",
			commit:     "abc1234",
			buildTime:  "2026-02-20T10:00:00Z",
			buildInfo:  vcs,
			want:       Info{Service: "mds", Version: "v1.4.0", Commit: "abc1234", BuildTime: "2026-02-20T10:00:00Z"},
		},
		{
			name:      "vcs stamp fills the gaps",
			service:   "mds",
			buildInfo: vcs,
			want:      Info{Service: "mds", Version: DevelopmentVersion, Commit: "0123456789ab", BuildTime: "2026-03-01T12:00:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBuildVars(t, tt.appVersion, tt.commit, tt.buildTime, tt.buildInfo)
			got := Current(tt.service)
			tt.want.GoVersion = runtime.Version()
			if got != tt.want {
				t.Fatalf("Current() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInfo_ParseBuildTime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	parsed, ok := Info{BuildTime: now.Format(time.RFC3339)}.ParseBuildTime()
	if !ok || !parsed.Equal(now) {
		t.Fatalf("expected %v, got %v (ok=%v)", now, parsed, ok)
	}
	for _, raw := range []string{"", Unknown, "yesterday"} {
		if _, ok := (Info{BuildTime: raw}).ParseBuildTime(); ok {
			t.Fatalf("expected %q not to parse", raw)
		}
	}
}

func TestInfo_String(t *testing.T) {
	s := Info{Service: "mds", Version: "v1.0.0", Commit: "abc", BuildTime: Unknown, GoVersion: "go1.25.5"}.String()
	if !strings.HasPrefix(s, "mds@v1.0.0") || !strings.Contains(s, "go=go1.25.5") {
		t.Fatalf("unexpected string %q", s)
	}
}
