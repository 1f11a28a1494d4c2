package main

import (
	"log"
	"testing"
	"time"

	"credit-spread-bot/internal/broker"
	"credit-spread-bot/internal/config"
	"credit-spread-bot/internal/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"longer_than_8", "1234567890abcdef", "12345678"},
		{"exactly_8", "12345678", "12345678"},
		{"shorter_than_8", "abcd", "abcd"},
		{"empty", "", ""},
		{"uuid", "a3f1c2d4-9b8e-4f10-8888-000000000000", "a3f1c2d4"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, shortID(tc.in))
		})
	}
}

func TestTradingDayUsesExchangeTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 01:30 UTC on Jan 2 is still Jan 1 in New York.
	ts := time.Date(2026, 1, 2, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-01-01", tradingDay(ts, ny))
	assert.Equal(t, "2026-01-02", tradingDay(ts, time.UTC))
}

func TestBuildBrokerSelection(t *testing.T) {
	logger := log.New(log.Writer(), "", 0)

	paper := &config.Config{}
	paper.Environment.Mode = "paper"
	paper.Scanner.Symbols = []string{"SPY"}

	b := buildBroker(paper, logger)
	_, isMock := b.(*mock.Broker)
	assert.True(t, isMock, "paper mode without credentials should use the simulator")

	live := &config.Config{}
	live.Environment.Mode = "live"
	live.Broker.APIKey = "key"
	live.Broker.SecretKey = "secret"

	b = buildBroker(live, logger)
	_, isAlpaca := b.(*broker.AlpacaClient)
	assert.True(t, isAlpaca, "live mode should use the real gateway")
}
