package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"credit-spread-bot/internal/models"
)

// JSONStorage persists trade data to a single JSON file, rewritten
// atomically on every mutation.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
}

type storageData struct {
	ActiveTrades []models.Trade     `json:"active_trades"`
	History      []models.Trade     `json:"history"`
	DailyPnL     map[string]float64 `json:"daily_pnl"`
	Statistics   Statistics         `json:"statistics"`
	LastUpdated  time.Time          `json:"last_updated"`
}

// NewJSONStorage opens the store at filepath, loading existing data
// when the file is present.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data: &storageData{
			DailyPnL: make(map[string]float64),
		},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

func (s *JSONStorage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, s.data); err != nil {
		return err
	}

	if s.data.DailyPnL == nil {
		s.data.DailyPnL = make(map[string]float64)
	}

	return nil
}

// saveLocked writes the current data to disk. Callers must hold mu.
func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to a temp file first, then rename for atomicity.
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filepath)
}

// RecordClosedTrade appends the trade to history and folds its realized
// P&L into the daily ledger and statistics.
func (s *JSONStorage) RecordClosedTrade(trade models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.History = append(s.data.History, trade)
	s.updateStatistics(trade.RealizedPnL)

	date := trade.ExitTime.Format("2006-01-02")
	if trade.ExitTime.IsZero() {
		date = time.Now().Format("2006-01-02")
	}
	s.data.DailyPnL[date] += trade.RealizedPnL

	return s.saveLocked()
}

// SaveActiveTrades overwrites the persisted set of open trades.
func (s *JSONStorage) SaveActiveTrades(trades []models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.ActiveTrades = trades
	return s.saveLocked()
}

// LoadActiveTrades returns the persisted set of open trades.
func (s *JSONStorage) LoadActiveTrades() []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := make([]models.Trade, len(s.data.ActiveTrades))
	copy(trades, s.data.ActiveTrades)
	return trades
}

// GetHistory returns all closed trades, oldest first.
func (s *JSONStorage) GetHistory() []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]models.Trade, len(s.data.History))
	copy(history, s.data.History)
	return history
}

// GetDailyPnL returns realized P&L recorded for the given date.
func (s *JSONStorage) GetDailyPnL(date string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyPnL[date]
}

// GetStatistics returns aggregate performance statistics.
func (s *JSONStorage) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Statistics
}

func (s *JSONStorage) updateStatistics(pnl float64) {
	stats := &s.data.Statistics
	stats.TotalTrades++
	stats.TotalPnL += pnl

	if pnl > 0 {
		stats.WinningTrades++
		if stats.CurrentStreak >= 0 {
			stats.CurrentStreak++
		} else {
			stats.CurrentStreak = 1
		}
		stats.StreakType = "win"

		totalWins := stats.AverageWin*float64(stats.WinningTrades-1) + pnl
		stats.AverageWin = totalWins / float64(stats.WinningTrades)
	} else {
		stats.LosingTrades++
		if stats.CurrentStreak <= 0 {
			stats.CurrentStreak--
		} else {
			stats.CurrentStreak = -1
		}
		stats.StreakType = "loss"

		totalLosses := stats.AverageLoss*float64(stats.LosingTrades-1) + pnl
		stats.AverageLoss = totalLosses / float64(stats.LosingTrades)
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}

	if stats.AverageLoss != 0 && stats.LosingTrades > 0 {
		grossLoss := -stats.AverageLoss * float64(stats.LosingTrades)
		grossWin := stats.AverageWin * float64(stats.WinningTrades)
		if grossLoss > 0 {
			stats.ProfitFactor = grossWin / grossLoss
		}
	}

	if pnl < 0 && pnl < stats.MaxDrawdown {
		stats.MaxDrawdown = pnl
	}
}

var _ Interface = (*JSONStorage)(nil)
