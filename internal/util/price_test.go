package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{
			name:     "basic rounding down",
			x:        1.2345,
			tick:     0.01,
			expected: 1.23,
		},
		{
			name:     "tie rounds away from zero",
			x:        1.235,
			tick:     0.01,
			expected: 1.24,
		},
		{
			name:     "negative basic rounding",
			x:        -1.2345,
			tick:     0.01,
			expected: -1.23,
		},
		{
			name:     "larger tick size",
			x:        1.27,
			tick:     0.05,
			expected: 1.25,
		},
		{
			name:     "non-positive tick returns input",
			x:        1.2345,
			tick:     0,
			expected: 1.2345,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToTick(tt.x, tt.tick)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("RoundToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestRound2(t *testing.T) {
	if got := Round2(123.456789); math.Abs(got-123.46) > 1e-10 {
		t.Errorf("Round2(123.456789) = %v, expected 123.46", got)
	}
	if got := Round2(-0.005); math.Abs(got+0.01) > 1e-10 {
		t.Errorf("Round2(-0.005) = %v, expected -0.01", got)
	}
}

func TestMidPrice(t *testing.T) {
	tests := []struct {
		name     string
		bid      float64
		ask      float64
		expected float64
	}{
		{name: "both sides quoted", bid: 1.00, ask: 1.10, expected: 1.05},
		{name: "bid missing", bid: 0, ask: 1.10, expected: 1.10},
		{name: "ask missing", bid: 1.00, ask: 0, expected: 1.00},
		{name: "no quotes", bid: 0, ask: 0, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MidPrice(tt.bid, tt.ask)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("MidPrice(%v, %v) = %v, expected %v", tt.bid, tt.ask, result, tt.expected)
			}
		})
	}
}
