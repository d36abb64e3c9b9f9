package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestApplyBuildSettings(t *testing.T) {
	tests := []struct {
		name        string
		settings    []debug.BuildSetting
		wantVersion string
		wantCommit  string
	}{
		{
			name: "clean checkout",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef"},
				{Key: "vcs.time", Value: "2024-03-05T10:00:00Z"},
			},
			wantVersion: "dev-20240305",
			wantCommit:  "0123456",
		},
		{
			name: "dirty tree",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc"},
				{Key: "vcs.modified", Value: "true"},
			},
			wantVersion: "",
			wantCommit:  "abc-dirty",
		},
		{
			name:        "no vcs stamp",
			settings:    nil,
			wantVersion: "",
			wantCommit:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldVersion, oldCommit := Version, Commit
			t.Cleanup(func() { Version, Commit = oldVersion, oldCommit })
			Version, Commit = "", ""

			applyBuildSettings(tt.settings)

			if Version != tt.wantVersion {
				t.Errorf("Version = %q, want %q", Version, tt.wantVersion)
			}
			if Commit != tt.wantCommit {
				t.Errorf("Commit = %q, want %q", Commit, tt.wantCommit)
			}
		})
	}
}

func TestApplyBuildSettingsKeepsLdflags(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = oldVersion, oldCommit })
	Version, Commit = "v1.2.3", "feedbee"

	applyBuildSettings([]debug.BuildSetting{{Key: "vcs.revision", Value: "0000000000"}})

	if Version != "v1.2.3" || Commit != "feedbee" {
		t.Errorf("got %s/%s, want ldflags values kept", Version, Commit)
	}
}

func TestFull(t *testing.T) {
	if got := Full(); !strings.Contains(got, Version) || !strings.Contains(got, "commit: "+Commit) {
		t.Errorf("Full() = %q", got)
	}
	if got := UserAgent(); got != "homelight/"+Version {
		t.Errorf("UserAgent() = %q", got)
	}
}
