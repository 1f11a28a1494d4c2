package models

import (
	"fmt"
	"time"
)

// ManagementRules are the global trade-management knobs. Profit-target
// and stop-loss fractions are read once when a trade is created and
// snapshotted onto it; the time-stop and daily-loss fields are read live
// at every evaluation.
type ManagementRules struct {
	ProfitTargetPct float64  `json:"profit_target_pct" yaml:"profit_target_pct"`
	StopLossPct     float64  `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	MaxDTE          int      `json:"max_dte" yaml:"max_dte"`
	MinDTE          int      `json:"min_dte" yaml:"min_dte"`
	TimeStopDTE     int      `json:"time_stop_dte" yaml:"time_stop_dte"`
	MonitorInterval Duration `json:"monitor_interval" yaml:"monitor_interval"`
	MaxDailyLoss    float64  `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxPositionSize float64  `json:"max_position_size" yaml:"max_position_size"`
}

// DefaultRules returns the stock management rules: take profit at 35%
// of the credit, stop at 75% of max loss, force out at 5 DTE.
func DefaultRules() ManagementRules {
	return ManagementRules{
		ProfitTargetPct: 0.35,
		StopLossPct:     0.75,
		MaxDTE:          45,
		MinDTE:          7,
		TimeStopDTE:     5,
		MonitorInterval: Duration(60 * time.Second),
		MaxDailyLoss:    500,
		MaxPositionSize: 0.02,
	}
}

// Validate checks the rules for values that would break the exit math.
func (r ManagementRules) Validate() error {
	if r.ProfitTargetPct <= 0 || r.ProfitTargetPct >= 1 {
		return fmt.Errorf("profit_target_pct must be in (0,1), got %.3f", r.ProfitTargetPct)
	}
	if r.StopLossPct <= 0 || r.StopLossPct > 1 {
		return fmt.Errorf("stop_loss_pct must be in (0,1], got %.3f", r.StopLossPct)
	}
	if r.TimeStopDTE < 0 {
		return fmt.Errorf("time_stop_dte must be >= 0, got %d", r.TimeStopDTE)
	}
	if r.MinDTE < 0 || r.MaxDTE <= 0 || r.MinDTE > r.MaxDTE {
		return fmt.Errorf("dte bounds invalid: min=%d max=%d", r.MinDTE, r.MaxDTE)
	}
	if r.MonitorInterval <= 0 {
		return fmt.Errorf("monitor_interval must be positive, got %v", r.MonitorInterval)
	}
	if r.MaxDailyLoss <= 0 {
		return fmt.Errorf("max_daily_loss must be > 0, got %.2f", r.MaxDailyLoss)
	}
	if r.MaxPositionSize <= 0 || r.MaxPositionSize > 1 {
		return fmt.Errorf("max_position_size must be in (0,1], got %.3f", r.MaxPositionSize)
	}
	return nil
}
