// Package storage persists trade history, daily P&L, and aggregate
// statistics to a JSON file on disk.
package storage

import "credit-spread-bot/internal/models"

// Statistics summarizes closed-trade performance.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	CurrentStreak int     `json:"current_streak"`
	StreakType    string  `json:"streak_type"`
}

// Interface abstracts trade persistence so the lifecycle manager and
// dashboard can run against the JSON store or an in-memory mock.
type Interface interface {
	// RecordClosedTrade appends a closed trade to history and folds its
	// realized P&L into the daily ledger and statistics.
	RecordClosedTrade(trade models.Trade) error

	// SaveActiveTrades overwrites the persisted set of open trades.
	SaveActiveTrades(trades []models.Trade) error

	// LoadActiveTrades returns the persisted set of open trades.
	LoadActiveTrades() []models.Trade

	// GetHistory returns all closed trades, oldest first.
	GetHistory() []models.Trade

	// GetDailyPnL returns realized P&L recorded for a date ("2006-01-02").
	GetDailyPnL(date string) float64

	// GetStatistics returns aggregate performance statistics.
	GetStatistics() Statistics
}
