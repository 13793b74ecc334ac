package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the engine process.
type Config struct {
	Port string

	// Binance USDT-M futures
	BinanceAPIKey     string
	BinanceAPISecret  string
	BinanceTestnet    bool
	BinanceRecvWindow int64

	SettingsPath string
	DBPath       string

	LogLevel string
	LogFile  string

	// Control API
	JWTSecret string
	Language  string // "en" or "pt"
	AutoStart bool

	// Critical-alert notifier
	TelegramToken  string
	TelegramChatID int64

	// Paper wallet used while test_mode is on
	SimInitialBalance float64
}

// Load reads environment variables (optionally via .env) into Config.
// Missing exchange credentials are a fatal configuration error.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		BinanceAPIKey:     os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:  os.Getenv("BINANCE_API_SECRET"),
		BinanceTestnet:    getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceRecvWindow: int64(getEnvInt("BINANCE_RECV_WINDOW", 5000)),
		SettingsPath:      getEnv("SETTINGS_PATH", "config/settings.json"),
		DBPath:            getEnv("DB_PATH", "./data/journal.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           os.Getenv("LOG_FILE"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		Language:          getEnv("LANGUAGE", "en"),
		AutoStart:         getEnv("AUTO_START", "true") == "true",
		TelegramToken:     os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:    int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
		SimInitialBalance: getEnvFloat("SIM_INITIAL_BALANCE", 10000.0),
	}

	var missing []string
	if cfg.BinanceAPIKey == "" {
		missing = append(missing, "BINANCE_API_KEY")
	}
	if cfg.BinanceAPISecret == "" {
		missing = append(missing, "BINANCE_API_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
