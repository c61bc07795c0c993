package version

import (
	"runtime/debug"
	"testing"
)

func buildInfo(settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{GoVersion: "go1.24.11", Settings: settings}, true
	}
}

func TestFromBuildInfo_FillsDefaults(t *testing.T) {
	got := fromBuildInfo(Info{Version: "dev", Commit: "none"}, buildInfo(
		debug.BuildSetting{Key: "vcs.revision", Value: "abcdef0123456789"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	))

	if got.Commit != "abcdef0123456789" {
		t.Fatalf("Commit = %q", got.Commit)
	}
	if got.BuildDate != "2026-01-02T03:04:05Z" || got.CommitDate != got.BuildDate {
		t.Fatalf("dates = %q / %q", got.BuildDate, got.CommitDate)
	}
	if got.VCSDirty == nil || !*got.VCSDirty {
		t.Fatalf("VCSDirty = %v, want true", got.VCSDirty)
	}
	if got.GoVersion != "go1.24.11" {
		t.Fatalf("GoVersion = %q", got.GoVersion)
	}
}

func TestFromBuildInfo_LinkerValuesWin(t *testing.T) {
	got := fromBuildInfo(Info{Commit: "stamped", BuildDate: "yesterday"}, buildInfo(
		debug.BuildSetting{Key: "vcs.revision", Value: "from-vcs"},
		debug.BuildSetting{Key: "vcs.time", Value: "today"},
	))
	if got.Commit != "stamped" || got.BuildDate != "yesterday" {
		t.Fatalf("got %+v, want linker values kept", got)
	}
}

func TestFromBuildInfo_VCSDirtyTriState(t *testing.T) {
	got := fromBuildInfo(Info{}, buildInfo())
	if got.VCSDirty != nil {
		t.Fatalf("VCSDirty = %v, want nil", *got.VCSDirty)
	}

	got = fromBuildInfo(Info{}, buildInfo(debug.BuildSetting{Key: "vcs.modified", Value: "false"}))
	if got.VCSDirty == nil || *got.VCSDirty {
		t.Fatalf("VCSDirty = %v, want false", got.VCSDirty)
	}
}

func TestFromBuildInfo_Unavailable(t *testing.T) {
	in := Info{Version: "1.2.3"}
	got := fromBuildInfo(in, func() (*debug.BuildInfo, bool) { return nil, false })
	if got != in {
		t.Fatalf("got %+v, want input unchanged", got)
	}
}

func TestInfo_String(t *testing.T) {
	dirty := true
	i := Info{Version: "1.0.0", Commit: "0123456789abcdef", GoVersion: "go1.24.11", VCSDirty: &dirty}
	want := "ggp-repo 1.0.0 (commit 0123456789ab, dirty, go1.24.11)"
	if got := i.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
