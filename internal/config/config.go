// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"credit-spread-bot/internal/models"
)

// Scanner defaults applied when the corresponding fields are unset.
const (
	// defaultScanInterval is used when scanner.interval is unset
	defaultScanInterval = "5m"
	// defaultMinMovePct is the minimum daily percent move that makes a
	// symbol worth analyzing
	defaultMinMovePct = 1.5
	// defaultMinIVRank filters out underlyings without rich premium
	defaultMinIVRank = 70.0
	// defaultMinConfidence is the model confidence floor for new trades
	defaultMinConfidence = 70.0
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig      `yaml:"environment"`
	Broker      BrokerConfig           `yaml:"broker"`
	LLM         LLMConfig              `yaml:"llm"`
	Scanner     ScannerConfig          `yaml:"scanner"`
	Rules       models.ManagementRules `yaml:"rules"`
	Schedule    ScheduleConfig         `yaml:"schedule"`
	Dashboard   DashboardConfig        `yaml:"dashboard"`
	Storage     StorageConfig          `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
}

// LLMConfig defines the analysis model settings.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// ScannerConfig defines market scanning parameters.
type ScannerConfig struct {
	Symbols       []string `yaml:"symbols"`
	Interval      string   `yaml:"interval"`
	MinMovePct    float64  `yaml:"min_move_pct"`
	MinIVRank     float64  `yaml:"min_iv_rank"`
	MinConfidence float64  `yaml:"min_confidence"`
	MaxOpenTrades int      `yaml:"max_open_trades"`
}

// ScheduleConfig defines trading schedule and market hours.
type ScheduleConfig struct {
	Timezone     string `yaml:"timezone"`      // e.g., "America/New_York"
	TradingStart string `yaml:"trading_start"` // "HH:MM"
	TradingEnd   string `yaml:"trading_end"`   // "HH:MM"
}

// DashboardConfig defines the HTTP dashboard settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// StorageConfig defines storage settings for trade data.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Broker validation. Live trading requires real credentials; paper
	// mode can run against the simulated broker without any.
	if c.Environment.Mode == "live" {
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required for live trading")
		}
		if c.Broker.SecretKey == "" {
			return fmt.Errorf("broker.secret_key is required for live trading")
		}
	}

	// Scanner validation
	c.normalizeScannerConfig()
	if len(c.Scanner.Symbols) == 0 {
		return fmt.Errorf("scanner.symbols must list at least one underlying")
	}
	if _, err := time.ParseDuration(c.Scanner.Interval); err != nil {
		return fmt.Errorf("scanner.interval invalid: %w", err)
	}
	if c.Scanner.MinMovePct <= 0 {
		return fmt.Errorf("scanner.min_move_pct must be > 0")
	}
	if c.Scanner.MinIVRank < 0 || c.Scanner.MinIVRank > 100 {
		return fmt.Errorf("scanner.min_iv_rank must be between 0 and 100")
	}
	if c.Scanner.MinConfidence < 0 || c.Scanner.MinConfidence > 100 {
		return fmt.Errorf("scanner.min_confidence must be between 0 and 100")
	}
	if c.Scanner.MaxOpenTrades <= 0 {
		return fmt.Errorf("scanner.max_open_trades must be > 0")
	}

	// Management rules validation
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	// Schedule validation
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback for minimal containers
		loc = time.FixedZone("ET", -5*60*60)
	}
	s, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	e, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil || (s.Hour() > e.Hour() || (s.Hour() == e.Hour() && s.Minute() >= e.Minute())) {
		return fmt.Errorf("schedule trading window invalid (start/end parse/order)")
	}

	// Storage validation
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetScanInterval returns the configured scan interval duration.
func (c *Config) GetScanInterval() time.Duration {
	d, err := time.ParseDuration(c.Scanner.Interval)
	if err != nil {
		return 5 * time.Minute // default
	}
	return d
}

// Location returns the configured market timezone, falling back to New
// York and then to a DST-agnostic fixed offset.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if fallbackLoc, err2 := time.LoadLocation("America/New_York"); err2 == nil {
			loc = fallbackLoc
		} else {
			loc = time.FixedZone("ET", -5*60*60)
		}
	}
	return loc
}

// IsWithinTradingHours checks if the given time falls within configured trading hours.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	loc := c.Location()
	today := now.In(loc)

	// Only allow Monday-Friday trading
	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	startClock, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	endClock, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil {
		// Safe defaults if misconfigured
		startClock = time.Date(0, 1, 1, 9, 45, 0, 0, loc)
		endClock = time.Date(0, 1, 1, 15, 45, 0, 0, loc)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	// Inclusive start, exclusive end
	return !today.Before(start) && today.Before(end)
}

// normalizeScannerConfig sets default values for scanner configuration
func (c *Config) normalizeScannerConfig() {
	if c.Scanner.Interval == "" {
		c.Scanner.Interval = defaultScanInterval
	}
	if c.Scanner.MinMovePct == 0 {
		c.Scanner.MinMovePct = defaultMinMovePct
	}
	if c.Scanner.MinIVRank == 0 {
		c.Scanner.MinIVRank = defaultMinIVRank
	}
	if c.Scanner.MinConfidence == 0 {
		c.Scanner.MinConfidence = defaultMinConfidence
	}
	if c.Scanner.MaxOpenTrades == 0 {
		c.Scanner.MaxOpenTrades = 5
	}
}
