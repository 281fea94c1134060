package config

import (
	"testing"
	"time"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MATCHES_LIMIT", "50")
	t.Setenv("STATS_INTERVAL", "3600")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.MatchesLimit != 50 {
		t.Errorf("MatchesLimit = %d, want 50", cfg.MatchesLimit)
	}
	if cfg.StatsInterval != time.Hour {
		t.Errorf("StatsInterval = %v, want 1h", cfg.StatsInterval)
	}
}
