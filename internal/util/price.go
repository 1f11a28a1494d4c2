// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// Round2 rounds x to two decimal places, the convention for dollar
// amounts throughout the bot.
func Round2(x float64) float64 {
	return RoundToTick(x, 0.01)
}

// MidPrice returns the bid/ask midpoint, falling back to whichever
// side is quoted when the other is zero.
func MidPrice(bid, ask float64) float64 {
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case ask > 0:
		return ask
	default:
		return bid
	}
}
