package storage

import "credit-spread-bot/internal/models"

// MockStorage implements Interface for testing
type MockStorage struct {
	recordError     error
	saveError       error
	activeTrades    []models.Trade
	history         []models.Trade
	dailyPnL        map[string]float64
	statistics      Statistics
	recordCallCount int
	saveCallCount   int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		dailyPnL: make(map[string]float64),
	}
}

func (m *MockStorage) RecordClosedTrade(trade models.Trade) error {
	m.recordCallCount++
	if m.recordError != nil {
		return m.recordError
	}

	m.history = append(m.history, trade)
	m.dailyPnL[trade.ExitTime.Format("2006-01-02")] += trade.RealizedPnL
	m.updateStatistics(trade.RealizedPnL)
	return nil
}

func (m *MockStorage) SaveActiveTrades(trades []models.Trade) error {
	m.saveCallCount++
	if m.saveError != nil {
		return m.saveError
	}

	m.activeTrades = trades
	return nil
}

func (m *MockStorage) LoadActiveTrades() []models.Trade {
	return m.activeTrades
}

func (m *MockStorage) GetHistory() []models.Trade {
	return m.history
}

func (m *MockStorage) GetDailyPnL(date string) float64 {
	return m.dailyPnL[date]
}

func (m *MockStorage) GetStatistics() Statistics {
	return m.statistics
}

// Mock control methods for testing

func (m *MockStorage) SetRecordError(err error) {
	m.recordError = err
}

func (m *MockStorage) SetSaveError(err error) {
	m.saveError = err
}

func (m *MockStorage) RecordCallCount() int {
	return m.recordCallCount
}

func (m *MockStorage) SaveCallCount() int {
	return m.saveCallCount
}

func (m *MockStorage) SetDailyPnL(date string, pnl float64) {
	m.dailyPnL[date] = pnl
}

func (m *MockStorage) AddHistoryTrade(trade models.Trade) {
	m.history = append(m.history, trade)
}

func (m *MockStorage) updateStatistics(pnl float64) {
	m.statistics.TotalTrades++
	m.statistics.TotalPnL += pnl

	if pnl > 0 {
		m.statistics.WinningTrades++
	} else if pnl < 0 {
		m.statistics.LosingTrades++
	}

	if m.statistics.TotalTrades > 0 {
		m.statistics.WinRate = float64(m.statistics.WinningTrades) / float64(m.statistics.TotalTrades)
	}
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)
