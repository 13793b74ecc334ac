package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSettingsAppliesDefaults(t *testing.T) {
	s, err := ParseSettings([]byte(`{"leverage": 10, "risk_per_trade_percent": 0.5, "max_risk_usdt_per_trade": 1.0, "test_mode": true}`))
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if s.Leverage != 10 || !s.TestMode {
		t.Fatalf("required values not read: %+v", s)
	}
	if s.KlineIntervalMinutes != 60 || s.KlineTrendPeriod != 50 || s.KlinePullbackPeriod != 10 || s.KlineATRPeriod != 14 {
		t.Fatalf("kline defaults not applied: %+v", s)
	}
	if s.MinATRMultiplier != 1.0 || s.MaxSymbolsToMonitor != 5 || s.RiskRewardRatio != 2.0 {
		t.Fatalf("strategy defaults not applied: %+v", s)
	}
}

func TestParseSettingsRejects(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantSub string
	}{
		{
			name:    "missing required keys",
			data:    `{"leverage": 10}`,
			wantSub: "risk_per_trade_percent",
		},
		{
			name:    "wrong type",
			data:    `{"leverage": "ten", "risk_per_trade_percent": 0.5, "max_risk_usdt_per_trade": 1, "test_mode": true}`,
			wantSub: "malformed",
		},
		{
			name:    "leverage out of range",
			data:    `{"leverage": 500, "risk_per_trade_percent": 0.5, "max_risk_usdt_per_trade": 1, "test_mode": false}`,
			wantSub: "leverage",
		},
		{
			name:    "unsupported interval",
			data:    `{"leverage": 5, "risk_per_trade_percent": 0.5, "max_risk_usdt_per_trade": 1, "test_mode": false, "kline_interval_minutes": 7}`,
			wantSub: "kline_interval_minutes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSettings([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestParseSettingsAcceptsYAML(t *testing.T) {
	data := "leverage: 3\nrisk_per_trade_percent: 1\nmax_risk_usdt_per_trade: 2.5\ntest_mode: false\nkline_interval_minutes: 15\n"
	s, err := ParseSettings([]byte(data))
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if s.KlineIntervalMinutes != 15 || s.MaxRiskUSDTPerTrade != 2.5 {
		t.Fatalf("unexpected settings %+v", s)
	}
}

func TestSaveSettingsThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "settings.json")
	want := DefaultSettings()
	want.Leverage = 7

	if err := SaveSettings(path, want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSaveSettingsValidates(t *testing.T) {
	s := DefaultSettings()
	s.RiskRewardRatio = 0
	if err := SaveSettings(filepath.Join(t.TempDir(), "s.json"), s); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "BINANCE_API_KEY") {
		t.Fatalf("expected missing credentials error, got %v", err)
	}

	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SettingsPath == "" || cfg.Port == "" {
		t.Fatalf("defaults missing: %+v", cfg)
	}
}
