package config

import (
	"testing"
	"time"
)

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("FEED_URL", "wss://feed.example.com/bars")
	t.Setenv("FEED_SYMBOLS", "eurusd, gbpusd ,usdjpy")
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("ENGINE_BASE_CONFLUENCE", "5")
	t.Setenv("RISK_MAX_PERCENT", "2.5")
	t.Setenv("LIFECYCLE_REENTRY_MIN_DELAY", "30m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.FeedConfig.URL != "wss://feed.example.com/bars" {
		t.Errorf("feed url = %q", cfg.FeedConfig.URL)
	}
	want := []string{"EURUSD", "GBPUSD", "USDJPY"}
	if len(cfg.FeedConfig.Symbols) != len(want) {
		t.Fatalf("symbols = %v", cfg.FeedConfig.Symbols)
	}
	for i, s := range want {
		if cfg.FeedConfig.Symbols[i] != s {
			t.Errorf("symbol[%d] = %q, want %q", i, cfg.FeedConfig.Symbols[i], s)
		}
	}
	if cfg.ServerConfig.Port != 9090 {
		t.Errorf("port = %d", cfg.ServerConfig.Port)
	}
	if cfg.EngineConfig.BaseConfluence != 5 {
		t.Errorf("base confluence = %d", cfg.EngineConfig.BaseConfluence)
	}
	if cfg.RiskConfig.MaxRiskPercent != 2.5 {
		t.Errorf("max risk = %v", cfg.RiskConfig.MaxRiskPercent)
	}
	if cfg.LifecycleConfig.ReentryMinDelay != 30*time.Minute {
		t.Errorf("re-entry delay = %v", cfg.LifecycleConfig.ReentryMinDelay)
	}
	if cfg.LoggingConfig.Level != "debug" {
		t.Errorf("log level = %q", cfg.LoggingConfig.Level)
	}
	if cfg.EngineConfig.StartingBalance != 10000 {
		t.Errorf("default balance = %v", cfg.EngineConfig.StartingBalance)
	}
}

func TestLoadRequiresFeedSettings(t *testing.T) {
	t.Setenv("FEED_URL", "")
	t.Setenv("FEED_SYMBOLS", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without a feed URL")
	}

	t.Setenv("FEED_URL", "wss://feed.example.com/bars")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without symbols")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.FeedConfig.URL = "wss://feed.example.com/bars"
		cfg.FeedConfig.Symbols = []string{"EURUSD"}
		applyDefaults(cfg)
		return cfg
	}

	cfg := base()
	cfg.RiskConfig.MaxRiskPercent = 11
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for risk above the ceiling")
	}

	cfg = base()
	cfg.ServerConfig.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid port")
	}

	cfg = base()
	cfg.PostgresConfig.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for postgres without DSN")
	}

	cfg = base()
	cfg.RedisConfig.Enabled = true
	cfg.RedisConfig.Address = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for redis without address")
	}
}
