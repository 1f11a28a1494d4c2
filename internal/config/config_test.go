package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
environment:
  mode: paper
  log_level: info

broker:
  provider: alpaca
  api_key: key
  secret_key: secret

llm:
  api_key: llm-key
  model: claude-sonnet-4-20250514
  max_tokens: 1024
  temperature: 0.3

scanner:
  symbols: [SPY, QQQ]
  interval: 5m
  min_move_pct: 1.5
  min_iv_rank: 70
  min_confidence: 70
  max_open_trades: 5

rules:
  profit_target_pct: 0.35
  stop_loss_pct: 0.75
  max_dte: 45
  min_dte: 7
  time_stop_dte: 5
  monitor_interval: 60s
  max_daily_loss: 500
  max_position_size: 0.02

schedule:
  timezone: America/New_York
  trading_start: "09:45"
  trading_end: "15:45"

dashboard:
  enabled: true
  addr: :8080
  auth_token: token

storage:
  path: data/trades.json
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, []string{"SPY", "QQQ"}, cfg.Scanner.Symbols)
	assert.Equal(t, 5*time.Minute, cfg.GetScanInterval())
	assert.InDelta(t, 0.35, cfg.Rules.ProfitTargetPct, 1e-9)
	assert.Equal(t, 60*time.Second, cfg.Rules.MonitorInterval.Std())
	assert.Equal(t, "data/trades.json", cfg.Storage.Path)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_BROKER_KEY", "from-env")

	yaml := replaceOnce(validYAML, "api_key: key", "api_key: ${TEST_BROKER_KEY}")

	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Broker.APIKey)
}

func replaceOnce(s, old, replacement string) string {
	return strings.Replace(s, old, replacement, 1)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	yaml := validYAML + "\nunknown_section:\n  foo: bar\n"
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadMode(t *testing.T) {
	yaml := replaceOnce(validYAML, "mode: paper", "mode: backtest")
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment.mode")
}

func TestValidateLiveRequiresCredentials(t *testing.T) {
	yaml := replaceOnce(validYAML, "mode: paper", "mode: live")
	yaml = replaceOnce(yaml, "api_key: key", "api_key: \"\"")
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.api_key")
}

func TestValidateRejectsEmptySymbols(t *testing.T) {
	yaml := replaceOnce(validYAML, "symbols: [SPY, QQQ]", "symbols: []")
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanner.symbols")
}

func TestValidateRejectsBadRules(t *testing.T) {
	yaml := replaceOnce(validYAML, "profit_target_pct: 0.35", "profit_target_pct: 1.5")
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profit_target_pct")
}

func TestValidateRejectsInvertedTradingWindow(t *testing.T) {
	yaml := replaceOnce(validYAML, "trading_start: \"09:45\"", "trading_start: \"16:00\"")
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trading window")
}

func TestScannerDefaultsApplied(t *testing.T) {
	yaml := replaceOnce(validYAML, "  interval: 5m\n", "")
	yaml = replaceOnce(yaml, "  min_move_pct: 1.5\n", "")
	yaml = replaceOnce(yaml, "  min_iv_rank: 70\n", "")
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.GetScanInterval())
	assert.InDelta(t, 1.5, cfg.Scanner.MinMovePct, 1e-9)
	assert.InDelta(t, 70.0, cfg.Scanner.MinIVRank, 1e-9)
}

func TestIsWithinTradingHours(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{
			name: "mid-session weekday",
			at:   time.Date(2025, 6, 2, 12, 0, 0, 0, ny), // Monday
			want: true,
		},
		{
			name: "before open",
			at:   time.Date(2025, 6, 2, 9, 30, 0, 0, ny),
			want: false,
		},
		{
			name: "at open boundary",
			at:   time.Date(2025, 6, 2, 9, 45, 0, 0, ny),
			want: true,
		},
		{
			name: "at close boundary",
			at:   time.Date(2025, 6, 2, 15, 45, 0, 0, ny),
			want: false,
		},
		{
			name: "saturday",
			at:   time.Date(2025, 6, 7, 12, 0, 0, 0, ny),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.IsWithinTradingHours(tt.at))
		})
	}
}
