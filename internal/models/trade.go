// Package models defines the option leg and trade records shared across
// the bot. A Trade is a two-leg vertical credit spread with dollar
// accounting already scaled by contracts x100.
package models

import (
	"fmt"
	"time"
)

const sharesPerContract = 100.0

// OptionKind is the contract type of a single leg.
type OptionKind string

const (
	// OptionKindCall represents a call option contract
	OptionKindCall OptionKind = "call"
	// OptionKindPut represents a put option contract
	OptionKindPut OptionKind = "put"
)

// Valid returns true if the OptionKind is one of the defined constants.
func (k OptionKind) Valid() bool {
	return k == OptionKindCall || k == OptionKindPut
}

// OptionLeg is one option contract as of a single market-data snapshot.
// A leg is never mutated after it is built; a fresh fetch produces a new
// value.
type OptionLeg struct {
	Symbol       string     `json:"symbol"`
	Underlying   string     `json:"underlying"`
	Strike       float64    `json:"strike"`
	Expiration   string     `json:"expiration"` // YYYY-MM-DD
	Kind         OptionKind `json:"kind"`
	Bid          float64    `json:"bid"`
	Ask          float64    `json:"ask"`
	Volume       int64      `json:"volume"`
	OpenInterest int64      `json:"open_interest"`
	Delta        float64    `json:"delta"`
	Gamma        float64    `json:"gamma"`
	Theta        float64    `json:"theta"`
	Vega         float64    `json:"vega"`
	IV           float64    `json:"implied_volatility"`
}

// ExpirationDate parses the leg's expiration into a time.Time (UTC midnight).
func (l *OptionLeg) ExpirationDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", l.Expiration)
	if err != nil {
		return time.Time{}, fmt.Errorf("leg %s: invalid expiration %q: %w", l.Symbol, l.Expiration, err)
	}
	return t, nil
}

// SpreadType is the direction of a credit spread.
type SpreadType string

const (
	// SpreadCallCredit is a call credit spread (short strike below long strike)
	SpreadCallCredit SpreadType = "call_credit"
	// SpreadPutCredit is a put credit spread (short strike above long strike)
	SpreadPutCredit SpreadType = "put_credit"
)

// Valid returns true if the SpreadType is one of the defined constants.
func (s SpreadType) Valid() bool {
	return s == SpreadCallCredit || s == SpreadPutCredit
}

// Kind returns the option kind both legs of this spread are built from.
func (s SpreadType) Kind() OptionKind {
	if s == SpreadCallCredit {
		return OptionKindCall
	}
	return OptionKindPut
}

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	// StatusOpen means the trade is being monitored for exit conditions.
	StatusOpen TradeStatus = "OPEN"
	// StatusClosing means closing orders have been submitted but not all fills confirmed.
	StatusClosing TradeStatus = "CLOSING"
	// StatusClosed means both legs' closing orders filled; terminal.
	StatusClosed TradeStatus = "CLOSED"
)

// ExitReason identifies which exit condition closed a trade. The values
// double as the checking order inside a single evaluation: profit target
// beats stop loss beats time stop beats the daily circuit breaker.
type ExitReason string

const (
	// ExitProfitTarget fires when unrealized P&L reaches the profit target.
	ExitProfitTarget ExitReason = "PROFIT_TARGET"
	// ExitStopLoss fires when unrealized P&L breaches the stop-loss threshold.
	ExitStopLoss ExitReason = "STOP_LOSS"
	// ExitTimeStop fires when days to expiration fall to the time-stop level.
	ExitTimeStop ExitReason = "TIME_STOP"
	// ExitDailyLossLimit fires when the day's realized losses breach the daily limit.
	ExitDailyLossLimit ExitReason = "DAILY_LOSS_LIMIT"
)

// Trade is one multi-leg credit-spread position. Entry terms and the
// profit-target/stop-loss thresholds are fixed at creation; only the
// valuation fields, status, and exit fields change afterwards. All
// dollar fields are total dollars (per-contract price x 100 x contracts).
type Trade struct {
	ID         string     `json:"trade_id"`
	Symbol     string     `json:"symbol"`
	Strategy   string     `json:"strategy_type"`
	SpreadType SpreadType `json:"spread_type"`
	ShortLeg   OptionLeg  `json:"short_leg"`
	LongLeg    OptionLeg  `json:"long_leg"`
	Contracts  int        `json:"contracts"`
	EntryTime  time.Time  `json:"entry_time"`

	EntryCredit float64 `json:"entry_credit"`
	MaxLoss     float64 `json:"max_loss"`

	// Thresholds snapshotted from the rules at creation. Later rule
	// changes never move them.
	ProfitTarget   float64 `json:"profit_target"`
	StopLossTarget float64 `json:"stop_loss_target"`

	CurrentValue  float64     `json:"current_value"`
	UnrealizedPnL float64     `json:"unrealized_pnl"`
	Status        TradeStatus `json:"status"`
	DTE           int         `json:"days_to_expiration"`

	ProbabilityProfit float64 `json:"probability_profit,omitempty"`
	ConfidenceScore   float64 `json:"confidence_score,omitempty"`
	Rationale         string  `json:"rationale,omitempty"`

	// Close-order tracking. Set when closing orders are submitted so a
	// later monitoring pass can resume the fill wait without
	// resubmitting.
	ShortCloseOrderID string `json:"short_close_order_id,omitempty"`
	LongCloseOrderID  string `json:"long_close_order_id,omitempty"`

	ExitTime    time.Time  `json:"exit_time,omitempty"`
	RealizedPnL float64    `json:"realized_pnl"`
	ExitReason  ExitReason `json:"exit_reason,omitempty"`
}

// CalculateDTE returns days to expiration of the short leg relative to
// now, clamped at zero. Both sides truncate to UTC days so a partial
// trading day still counts as today.
func (t *Trade) CalculateDTE(now time.Time) int {
	exp, err := t.ShortLeg.ExpirationDate()
	if err != nil {
		return 0
	}
	n := now.UTC().Truncate(24 * time.Hour)
	e := exp.UTC().Truncate(24 * time.Hour)
	days := int(e.Sub(n).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// PerContractCredit returns the entry credit expressed per contract in
// option-price terms (dollars / 100 / contracts).
func (t *Trade) PerContractCredit() float64 {
	if t.Contracts == 0 {
		return 0
	}
	return t.EntryCredit / (float64(t.Contracts) * sharesPerContract)
}

// IsActive reports whether the trade still belongs in the active set.
func (t *Trade) IsActive() bool {
	return t.Status == StatusOpen || t.Status == StatusClosing
}

// ValidateTerms checks the entry terms that would corrupt downstream
// accounting if allowed through. Economic consistency of the legs
// (strike ordering, positive net credit) is deliberately not enforced.
func (t *Trade) ValidateTerms() error {
	if t.Contracts < 1 {
		return fmt.Errorf("trade %s: contracts must be >= 1 (got %d)", t.ID, t.Contracts)
	}
	if t.MaxLoss <= 0 {
		return fmt.Errorf("trade %s: max loss must be positive (got %.2f)", t.ID, t.MaxLoss)
	}
	if !t.SpreadType.Valid() {
		return fmt.Errorf("trade %s: invalid spread type %q", t.ID, t.SpreadType)
	}
	return nil
}
