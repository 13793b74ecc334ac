package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// Settings are the strategy and risk options the control loop runs with.
type Settings struct {
	Leverage              int     `yaml:"leverage" json:"leverage"`
	RiskPerTradePercent   float64 `yaml:"risk_per_trade_percent" json:"risk_per_trade_percent"`
	MaxRiskUSDTPerTrade   float64 `yaml:"max_risk_usdt_per_trade" json:"max_risk_usdt_per_trade"`
	TestMode              bool    `yaml:"test_mode" json:"test_mode"`
	KlineIntervalMinutes  int     `yaml:"kline_interval_minutes" json:"kline_interval_minutes"`
	KlineTrendPeriod      int     `yaml:"kline_trend_period" json:"kline_trend_period"`
	KlinePullbackPeriod   int     `yaml:"kline_pullback_period" json:"kline_pullback_period"`
	KlineATRPeriod        int     `yaml:"kline_atr_period" json:"kline_atr_period"`
	MinATRMultiplier      float64 `yaml:"min_atr_multiplier_for_entry" json:"min_atr_multiplier_for_entry"`
	MaxSymbolsToMonitor   int     `yaml:"max_symbols_to_monitor" json:"max_symbols_to_monitor"`
	RiskRewardRatio       float64 `yaml:"risk_reward_ratio" json:"risk_reward_ratio"`
	RescanIntervalMinutes int     `yaml:"rescan_interval_minutes" json:"rescan_interval_minutes"`
}

// fileSettings distinguishes absent keys from zero values.
type fileSettings struct {
	Leverage              *int     `yaml:"leverage"`
	RiskPerTradePercent   *float64 `yaml:"risk_per_trade_percent"`
	MaxRiskUSDTPerTrade   *float64 `yaml:"max_risk_usdt_per_trade"`
	TestMode              *bool    `yaml:"test_mode"`
	KlineIntervalMinutes  *int     `yaml:"kline_interval_minutes"`
	KlineTrendPeriod      *int     `yaml:"kline_trend_period"`
	KlinePullbackPeriod   *int     `yaml:"kline_pullback_period"`
	KlineATRPeriod        *int     `yaml:"kline_atr_period"`
	MinATRMultiplier      *float64 `yaml:"min_atr_multiplier_for_entry"`
	MaxSymbolsToMonitor   *int     `yaml:"max_symbols_to_monitor"`
	RiskRewardRatio       *float64 `yaml:"risk_reward_ratio"`
	RescanIntervalMinutes *int     `yaml:"rescan_interval_minutes"`
}

// ValidIntervals are the kline intervals, in minutes, the engine can request.
var ValidIntervals = []int{1, 5, 15, 30, 60, 240, 1440}

// DefaultSettings is the configuration offered before any file exists.
func DefaultSettings() Settings {
	return Settings{
		Leverage:             15,
		RiskPerTradePercent:  0.5,
		MaxRiskUSDTPerTrade:  1.0,
		TestMode:             true,
		KlineIntervalMinutes: 5,
		KlineTrendPeriod:     50,
		KlinePullbackPeriod:  10,
		KlineATRPeriod:       14,
		MinATRMultiplier:     1.5,
		MaxSymbolsToMonitor:  5,
		RiskRewardRatio:      2.0,
	}
}

// LoadSettings reads and validates the settings file.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes JSON or YAML settings. The four risk keys are
// required; the strategy keys fall back to their defaults.
func ParseSettings(data []byte) (Settings, error) {
	var raw fileSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("malformed settings: %w", err)
	}

	var missing []string
	if raw.Leverage == nil {
		missing = append(missing, "leverage")
	}
	if raw.RiskPerTradePercent == nil {
		missing = append(missing, "risk_per_trade_percent")
	}
	if raw.MaxRiskUSDTPerTrade == nil {
		missing = append(missing, "max_risk_usdt_per_trade")
	}
	if raw.TestMode == nil {
		missing = append(missing, "test_mode")
	}
	if len(missing) > 0 {
		return Settings{}, fmt.Errorf("settings missing required keys: %s", strings.Join(missing, ", "))
	}

	s := Settings{
		Leverage:              *raw.Leverage,
		RiskPerTradePercent:   *raw.RiskPerTradePercent,
		MaxRiskUSDTPerTrade:   *raw.MaxRiskUSDTPerTrade,
		TestMode:              *raw.TestMode,
		KlineIntervalMinutes:  intOr(raw.KlineIntervalMinutes, 60),
		KlineTrendPeriod:      intOr(raw.KlineTrendPeriod, 50),
		KlinePullbackPeriod:   intOr(raw.KlinePullbackPeriod, 10),
		KlineATRPeriod:        intOr(raw.KlineATRPeriod, 14),
		MinATRMultiplier:      floatOr(raw.MinATRMultiplier, 1.0),
		MaxSymbolsToMonitor:   intOr(raw.MaxSymbolsToMonitor, 5),
		RiskRewardRatio:       floatOr(raw.RiskRewardRatio, 2.0),
		RescanIntervalMinutes: intOr(raw.RescanIntervalMinutes, 0),
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks ranges; every failure is reported at once.
func (s Settings) Validate() error {
	var errs []error
	if s.Leverage < 1 || s.Leverage > 125 {
		errs = append(errs, fmt.Errorf("leverage must be in [1,125], got %d", s.Leverage))
	}
	if s.RiskPerTradePercent <= 0 {
		errs = append(errs, fmt.Errorf("risk_per_trade_percent must be > 0"))
	}
	if s.MaxRiskUSDTPerTrade <= 0 {
		errs = append(errs, fmt.Errorf("max_risk_usdt_per_trade must be > 0"))
	}
	if !validInterval(s.KlineIntervalMinutes) {
		errs = append(errs, fmt.Errorf("kline_interval_minutes must be one of %v, got %d", ValidIntervals, s.KlineIntervalMinutes))
	}
	if s.KlineTrendPeriod < 2 || s.KlinePullbackPeriod < 2 || s.KlineATRPeriod < 2 {
		errs = append(errs, fmt.Errorf("kline periods must be >= 2"))
	}
	if s.MinATRMultiplier < 0 {
		errs = append(errs, fmt.Errorf("min_atr_multiplier_for_entry must be >= 0"))
	}
	if s.MaxSymbolsToMonitor < 1 {
		errs = append(errs, fmt.Errorf("max_symbols_to_monitor must be >= 1"))
	}
	if s.RiskRewardRatio <= 0 {
		errs = append(errs, fmt.Errorf("risk_reward_ratio must be > 0"))
	}
	if s.RescanIntervalMinutes < 0 {
		errs = append(errs, fmt.Errorf("rescan_interval_minutes must be >= 0"))
	}
	return errors.Join(errs...)
}

// SaveSettings validates and writes s; .yaml/.yml paths get YAML, anything
// else indented JSON.
func SaveSettings(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(s)
	default:
		data, err = sonic.ConfigStd.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func validInterval(m int) bool {
	for _, v := range ValidIntervals {
		if v == m {
			return true
		}
	}
	return false
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
