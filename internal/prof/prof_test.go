package prof

import (
	"context"
	"strings"
	"testing"
)

func TestStart_Disabled(t *testing.T) {
	var states []bool
	stop, err := Start(context.Background(), Options{OnActive: func(b bool) { states = append(states, b) }})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
	if len(states) != 1 || states[0] {
		t.Fatalf("OnActive = %v, want [false]", states)
	}
}

func TestStart_InvalidServer(t *testing.T) {
	for _, addr := range []string{"", "pyroscope:4040", "://bad"} {
		stop, err := Start(context.Background(), Options{Enabled: true, AppName: "ggp-repo", ServerAddress: addr})
		if err == nil {
			t.Fatalf("address %q should be rejected", addr)
		}
		if stop == nil {
			t.Fatal("stop must never be nil")
		}
		stop()
	}
}

func TestConfig(t *testing.T) {
	cfg, err := config(Options{
		AppName:       "ggp-repo.server",
		ServerAddress: "http://pyroscope:4040",
		TenantID:      "ggp",
		Tags:          map[string]string{"version": "1.0.0"},
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.ApplicationName != "ggp-repo.server" || cfg.TenantID != "ggp" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Tags["version"] != "1.0.0" {
		t.Fatalf("tags = %v", cfg.Tags)
	}
	if len(cfg.ProfileTypes) != len(profileTypes) {
		t.Fatalf("profile types = %d", len(cfg.ProfileTypes))
	}
}

func TestConfig_RequiresAppName(t *testing.T) {
	_, err := config(Options{ServerAddress: "http://pyroscope:4040"})
	if err == nil || !strings.Contains(err.Error(), "application name") {
		t.Fatalf("err = %v", err)
	}
}
