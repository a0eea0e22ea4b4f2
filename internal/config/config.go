package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/arblens/core/pkg/oddsmath"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	OddsAPI   OddsAPIConfig
	Detector  DetectorConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type StoreConfig struct {
	Path          string
	RetentionDays int
}

type OddsAPIConfig struct {
	BaseURL    string
	APIKey     string
	Regions    []string
	Markets    []string
	OddsFormat string
	Timeout    int
}

type DetectorConfig struct {
	MinProfitPct float64
	MinBooks     int
}

type SchedulerConfig struct {
	RefreshIntervalS int
	Sports           []string
}

// Load builds the configuration from the environment, reading a .env file
// from the working directory when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host: getEnv("HOST", "localhost"),
			Port: getEnv("PORT", "8080"),
		},
		Store: StoreConfig{
			Path:          getEnv("DB_PATH", "data/arbitrage.db"),
			RetentionDays: getEnvAsInt("RETENTION_DAYS", 30),
		},
		OddsAPI: OddsAPIConfig{
			BaseURL:    getEnv("ODDS_API_BASE_URL", "https://api.the-odds-api.com/v4"),
			APIKey:     getEnv("ODDS_API_KEY", ""),
			Regions:    splitCSV(getEnv("REGIONS", "us,us2")),
			Markets:    splitCSV(getEnv("MARKETS", "h2h")),
			OddsFormat: strings.ToLower(getEnv("ODDS_FORMAT", "american")),
			Timeout:    getEnvAsInt("ODDS_API_TIMEOUT", 30),
		},
		Detector: DetectorConfig{
			MinProfitPct: getEnvAsFloat("MIN_PROFIT_PCT", 0.0),
			MinBooks:     2,
		},
		Scheduler: SchedulerConfig{
			RefreshIntervalS: getEnvAsInt("REFRESH_INTERVAL", 14400),
			Sports:           splitCSV(getEnv("SPORTS", "")),
		},
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.OddsAPI.APIKey == "" {
		return errors.New("ODDS_API_KEY is required")
	}
	if c.Store.Path == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if len(c.OddsAPI.Markets) == 0 {
		return errors.New("MARKETS must name at least one market")
	}
	for _, m := range c.OddsAPI.Markets {
		switch m {
		case "h2h", "spreads", "totals":
		default:
			return fmt.Errorf("unsupported market %q", m)
		}
	}
	if _, err := oddsmath.ParseFormat(c.OddsAPI.OddsFormat); err != nil {
		return fmt.Errorf("ODDS_FORMAT: %w", err)
	}
	if c.Scheduler.RefreshIntervalS < 0 {
		return errors.New("REFRESH_INTERVAL must not be negative")
	}
	return nil
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
