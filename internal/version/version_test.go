package version

import (
	"runtime/debug"
	"testing"
)

func TestFillFromBuildInfo(t *testing.T) {
	tests := []struct {
		name        string
		info        debug.BuildInfo
		wantVersion string
		wantCommit  string
	}{
		{
			name: "tagged install",
			info: debug.BuildInfo{
				Main:     debug.Module{Version: "v0.3.1"},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}},
			},
			wantVersion: "v0.3.1",
			wantCommit:  "0123456",
		},
		{
			name: "dirty checkout",
			info: debug.BuildInfo{
				Main: debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "abc"},
					{Key: "vcs.modified", Value: "true"},
					{Key: "vcs.time", Value: "2026-03-04T05:06:07Z"},
				},
			},
			wantVersion: "dev-20260304",
			wantCommit:  "abc-dirty",
		},
		{
			name: "no vcs",
			info: debug.BuildInfo{Main: debug.Module{Version: "(devel)"}},
		},
	}

	savedVersion, savedCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = savedVersion, savedCommit })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Version, Commit = "", ""
			fillFromBuildInfo(&tt.info)
			if Version != tt.wantVersion || Commit != tt.wantCommit {
				t.Errorf("got (%q, %q), want (%q, %q)", Version, Commit, tt.wantVersion, tt.wantCommit)
			}
		})
	}
}

func TestFullKeepsLinkerValues(t *testing.T) {
	savedVersion, savedCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = savedVersion, savedCommit })

	Version, Commit = "v1.2.3", "abc123"
	fillFromBuildInfo(&debug.BuildInfo{Main: debug.Module{Version: "v9.9.9"}})
	if got, want := Full(), "v1.2.3 (commit: abc123)"; got != want {
		t.Errorf("Full() = %q, want %q", got, want)
	}
}
