// Package lifecycle manages open credit spreads from entry bookkeeping
// through exit evaluation, closure, and realized P&L accounting.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"credit-spread-bot/internal/broker"
	"credit-spread-bot/internal/models"
	"credit-spread-bot/internal/retry"
	"credit-spread-bot/internal/storage"
	"credit-spread-bot/internal/util"
)

// Config contains timing configuration for close-order fill polling.
type Config struct {
	PollInterval time.Duration
	FillTimeout  time.Duration
	CallTimeout  time.Duration
}

// DefaultConfig is the default configuration for the lifecycle manager.
var DefaultConfig = Config{
	PollInterval: 10 * time.Second,
	FillTimeout:  5 * time.Minute,
	CallTimeout:  10 * time.Second,
}

// TradeTerms carries everything needed to register a new spread.
type TradeTerms struct {
	Symbol            string
	Strategy          string
	SpreadType        models.SpreadType
	ShortLeg          models.OptionLeg
	LongLeg           models.OptionLeg
	Contracts         int
	EntryCredit       float64
	MaxLoss           float64
	ProbabilityProfit float64
	ConfidenceScore   float64
	Rationale         string
}

// Summary aggregates portfolio state across active and closed trades.
type Summary struct {
	ActiveTrades  int       `json:"active_trades"`
	ClosedTrades  int       `json:"closed_trades"`
	TotalCredit   float64   `json:"total_credit"`
	TotalRisk     float64   `json:"total_risk"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	DailyPnL      float64   `json:"daily_pnl"`
	WinRate       float64   `json:"win_rate"`
	AverageWin    float64   `json:"average_win"`
	AverageLoss   float64   `json:"average_loss"`
	ProfitFactor  float64   `json:"profit_factor"`
	LastCheck     time.Time `json:"last_check"`
}

// Manager tracks active spreads and drives them through exit evaluation
// and closure. All state access is guarded by a single mutex; broker
// calls are made without holding it.
type Manager struct {
	mu        sync.Mutex
	broker    broker.Broker
	submitter *retry.Client
	storage   storage.Interface
	logger    *log.Logger
	config    Config
	rules     models.ManagementRules
	active    map[string]*models.Trade
	closed    []*models.Trade
	dailyPnL  float64
	lastCheck time.Time
	now       func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(
	b broker.Broker,
	store storage.Interface,
	rules models.ManagementRules,
	logger *log.Logger,
	config ...Config,
) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	if logger == nil {
		logger = log.New(os.Stderr, "lifecycle: ", log.LstdFlags)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = DefaultConfig.FillTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}

	if b == nil {
		panic("lifecycle.NewManager: broker must not be nil")
	}
	if store == nil {
		panic("lifecycle.NewManager: storage must not be nil")
	}

	if err := rules.Validate(); err != nil {
		logger.Printf("Invalid management rules (%v), falling back to defaults", err)
		rules = models.DefaultRules()
	}

	return &Manager{
		broker:    b,
		submitter: retry.NewClient(b, logger),
		storage:   store,
		logger:    logger,
		config:    cfg,
		rules:     rules,
		active:    make(map[string]*models.Trade),
		now:       time.Now,
	}
}

// Rules returns the current management rules.
func (m *Manager) Rules() models.ManagementRules {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules
}

// SetRules replaces the live management rules. Thresholds already
// snapshotted onto open trades are unaffected.
func (m *Manager) SetRules(rules models.ManagementRules) error {
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("invalid management rules: %w", err)
	}

	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()

	m.logger.Printf("Management rules updated: profit_target=%.0f%% stop_loss=%.0f%% time_stop=%d DTE max_daily_loss=$%.2f",
		rules.ProfitTargetPct*100, rules.StopLossPct*100, rules.TimeStopDTE, rules.MaxDailyLoss)
	return nil
}

// DailyPnL returns today's realized P&L.
func (m *Manager) DailyPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL
}

// ResetDailyPnL zeroes the daily realized P&L counter. Called at the
// start of each trading day.
func (m *Manager) ResetDailyPnL() {
	m.mu.Lock()
	m.dailyPnL = 0
	m.mu.Unlock()

	m.logger.Printf("Daily P&L counter reset")
}

// AddTrade registers a newly opened spread and snapshots its exit
// thresholds from the current rules.
func (m *Manager) AddTrade(terms TradeTerms) (*models.Trade, error) {
	m.mu.Lock()
	rules := m.rules
	m.mu.Unlock()

	now := m.now()

	trade := &models.Trade{
		ID:                uuid.NewString(),
		Symbol:            terms.Symbol,
		Strategy:          terms.Strategy,
		SpreadType:        terms.SpreadType,
		ShortLeg:          terms.ShortLeg,
		LongLeg:           terms.LongLeg,
		Contracts:         terms.Contracts,
		EntryTime:         now,
		EntryCredit:       terms.EntryCredit,
		MaxLoss:           terms.MaxLoss,
		ProfitTarget:      terms.EntryCredit * rules.ProfitTargetPct,
		StopLossTarget:    terms.MaxLoss * rules.StopLossPct,
		CurrentValue:      terms.EntryCredit,
		Status:            models.StatusOpen,
		ProbabilityProfit: terms.ProbabilityProfit,
		ConfidenceScore:   terms.ConfidenceScore,
		Rationale:         terms.Rationale,
	}
	trade.DTE = trade.CalculateDTE(now)

	if err := trade.ValidateTerms(); err != nil {
		return nil, fmt.Errorf("invalid trade terms: %w", err)
	}

	m.mu.Lock()
	m.active[trade.ID] = trade
	m.mu.Unlock()

	m.persistActive()

	m.logger.Printf("Trade added: %s %s %s credit=$%.2f max_loss=$%.2f profit_target=$%.2f stop_loss=$%.2f DTE=%d",
		trade.ID, trade.Symbol, trade.SpreadType,
		trade.EntryCredit, trade.MaxLoss, trade.ProfitTarget, trade.StopLossTarget, trade.DTE)

	return trade, nil
}

// RestoreTrades reloads persisted trades into the active set, typically
// after a restart.
func (m *Manager) RestoreTrades() int {
	trades := m.storage.LoadActiveTrades()

	m.mu.Lock()
	restored := 0
	for i := range trades {
		t := trades[i]
		if !t.IsActive() {
			continue
		}
		if _, exists := m.active[t.ID]; exists {
			continue
		}
		m.active[t.ID] = &t
		restored++
	}
	m.mu.Unlock()

	if restored > 0 {
		m.logger.Printf("Restored %d active trade(s) from storage", restored)
	}
	return restored
}

// CurrentValue refreshes the trade's cost-to-close and unrealized P&L
// from live quotes. On any market-data failure the last known values
// are kept and returned.
func (m *Manager) CurrentValue(ctx context.Context, trade *models.Trade) (float64, float64) {
	shortLeg, longLeg, err := m.fetchLegs(ctx, trade)
	if err != nil {
		m.logger.Printf("Trade %s: keeping last known value ($%.2f): %v", trade.ID, trade.CurrentValue, err)
		m.mu.Lock()
		defer m.mu.Unlock()
		return trade.CurrentValue, trade.UnrealizedPnL
	}

	// Cost to buy back the spread at current quotes.
	costToClose := (shortLeg.Ask - longLeg.Bid) * 100 * float64(trade.Contracts)
	if costToClose < 0 {
		costToClose = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	trade.ShortLeg.Bid, trade.ShortLeg.Ask = shortLeg.Bid, shortLeg.Ask
	trade.LongLeg.Bid, trade.LongLeg.Ask = longLeg.Bid, longLeg.Ask
	trade.CurrentValue = costToClose
	trade.UnrealizedPnL = trade.EntryCredit - costToClose

	return trade.CurrentValue, trade.UnrealizedPnL
}

func (m *Manager) fetchLegs(ctx context.Context, trade *models.Trade) (*models.OptionLeg, *models.OptionLeg, error) {
	chainCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	chain, err := m.broker.GetOptionChain(chainCtx, trade.Symbol, trade.ShortLeg.Expiration)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching option chain: %w", err)
	}

	shortLeg := broker.GetLegByStrike(chain, trade.ShortLeg.Strike, trade.ShortLeg.Kind)
	if shortLeg == nil {
		return nil, nil, fmt.Errorf("short leg %s %.2f %s not found in chain",
			trade.Symbol, trade.ShortLeg.Strike, trade.ShortLeg.Kind)
	}

	longChain := chain
	if trade.LongLeg.Expiration != trade.ShortLeg.Expiration {
		longCtx, longCancel := context.WithTimeout(ctx, m.config.CallTimeout)
		defer longCancel()
		longChain, err = m.broker.GetOptionChain(longCtx, trade.Symbol, trade.LongLeg.Expiration)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching long-leg option chain: %w", err)
		}
	}

	longLeg := broker.GetLegByStrike(longChain, trade.LongLeg.Strike, trade.LongLeg.Kind)
	if longLeg == nil {
		return nil, nil, fmt.Errorf("long leg %s %.2f %s not found in chain",
			trade.Symbol, trade.LongLeg.Strike, trade.LongLeg.Kind)
	}

	return shortLeg, longLeg, nil
}

// EvaluateExit refreshes the trade's value and DTE, then checks exit
// conditions in fixed priority order: profit target, stop loss, time
// stop, daily loss limit. It returns the first reason that fires.
func (m *Manager) EvaluateExit(ctx context.Context, trade *models.Trade) (models.ExitReason, bool) {
	_, pnl := m.CurrentValue(ctx, trade)

	m.mu.Lock()
	defer m.mu.Unlock()

	trade.DTE = trade.CalculateDTE(m.now())

	if trade.Status != models.StatusOpen {
		return "", false
	}

	if pnl >= trade.ProfitTarget {
		return models.ExitProfitTarget, true
	}
	if pnl <= -trade.StopLossTarget {
		return models.ExitStopLoss, true
	}
	if trade.DTE <= m.rules.TimeStopDTE {
		return models.ExitTimeStop, true
	}
	if m.dailyPnL <= -m.rules.MaxDailyLoss {
		return models.ExitDailyLossLimit, true
	}

	return "", false
}

// CloseTrade closes out both legs of the spread: buy back the short
// leg, sell the long leg, then wait for both fills. Returns true only
// when the trade reached CLOSED.
func (m *Manager) CloseTrade(ctx context.Context, trade *models.Trade, reason models.ExitReason) bool {
	m.mu.Lock()
	if trade.Status == models.StatusClosed {
		m.mu.Unlock()
		return false
	}
	// A resumed close keeps the reason recorded when closing started.
	if trade.ExitReason != "" {
		reason = trade.ExitReason
	}
	needShort := trade.ShortCloseOrderID == ""
	needLong := trade.LongCloseOrderID == ""
	m.mu.Unlock()

	if !needShort && !needLong {
		m.logger.Printf("Trade %s already has pending close orders, resuming fill wait", trade.ID)
		return m.waitForFills(ctx, trade)
	}

	m.logger.Printf("Closing trade %s (%s): reason=%s", trade.ID, trade.Symbol, reason)

	if needShort {
		orderID, err := m.submitter.SubmitCloseWithRetry(ctx, trade.ShortLeg.Symbol, broker.SideBuy, trade.Contracts)
		if err != nil {
			// Nothing was submitted: the trade stays OPEN with no exit
			// state, so a later close may record a different reason.
			m.logger.Printf("Trade %s: short leg close submission failed: %v", trade.ID, err)
			return false
		}
		m.mu.Lock()
		trade.ShortCloseOrderID = orderID
		trade.Status = models.StatusClosing
		trade.ExitReason = reason
		m.mu.Unlock()
	}

	if needLong {
		orderID, err := m.submitter.SubmitCloseWithRetry(ctx, trade.LongLeg.Symbol, broker.SideSell, trade.Contracts)
		if err != nil {
			// Short leg order is already live. Stay CLOSING so the next
			// monitoring pass resubmits only the missing leg.
			m.logger.Printf("Trade %s: long leg close submission failed: %v", trade.ID, err)
			m.persistActive()
			return false
		}
		m.mu.Lock()
		trade.LongCloseOrderID = orderID
		trade.Status = models.StatusClosing
		trade.ExitReason = reason
		m.mu.Unlock()
	}

	m.persistActive()

	return m.waitForFills(ctx, trade)
}

// waitForFills polls both close orders until they fill, one is
// rejected, or the fill timeout elapses.
func (m *Manager) waitForFills(ctx context.Context, trade *models.Trade) bool {
	fillCtx, cancel := context.WithTimeout(ctx, m.config.FillTimeout)
	defer cancel()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	m.mu.Lock()
	shortID, longID := trade.ShortCloseOrderID, trade.LongCloseOrderID
	m.mu.Unlock()

	for {
		select {
		case <-fillCtx.Done():
			// Orders may still fill later. Stay CLOSING so the next
			// monitoring pass picks the wait back up.
			m.logger.Printf("Trade %s: fill wait timed out after %v, will re-check next cycle",
				trade.ID, m.config.FillTimeout)
			return false
		case <-ticker.C:
			shortState, shortErr := m.orderState(fillCtx, shortID)
			longState, longErr := m.orderState(fillCtx, longID)
			if shortErr != nil || longErr != nil {
				m.logger.Printf("Trade %s: order status check failed (short=%v long=%v)", trade.ID, shortErr, longErr)
				continue
			}

			if shortState == broker.FillRejected || longState == broker.FillRejected {
				m.logger.Printf("Trade %s: close order rejected (short=%s long=%s), reverting to OPEN",
					trade.ID, shortState, longState)
				m.mu.Lock()
				trade.ShortCloseOrderID = ""
				trade.LongCloseOrderID = ""
				trade.ExitReason = ""
				trade.Status = models.StatusOpen
				m.mu.Unlock()
				m.persistActive()
				return false
			}

			if shortState == broker.FillFilled && longState == broker.FillFilled {
				m.finalizeClose(ctx, trade)
				return true
			}

			m.logger.Printf("Trade %s: waiting for fills (short=%s long=%s)", trade.ID, shortState, longState)
		}
	}
}

func (m *Manager) orderState(ctx context.Context, orderID string) (broker.FillState, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()
	return m.broker.GetOrderStatus(callCtx, orderID)
}

// finalizeClose marks the trade CLOSED, realizes its P&L, and records
// it with storage.
func (m *Manager) finalizeClose(ctx context.Context, trade *models.Trade) {
	_, pnl := m.CurrentValue(ctx, trade)

	m.mu.Lock()
	trade.Status = models.StatusClosed
	trade.ExitTime = m.now()
	trade.RealizedPnL = pnl
	trade.UnrealizedPnL = 0
	m.dailyPnL += trade.RealizedPnL

	delete(m.active, trade.ID)
	m.closed = append(m.closed, trade)
	daily := m.dailyPnL
	m.mu.Unlock()

	m.persistActive()
	if err := m.storage.RecordClosedTrade(*trade); err != nil {
		m.logger.Printf("Trade %s: failed to record closed trade: %v", trade.ID, err)
	}

	m.logger.Printf("Trade %s CLOSED: reason=%s realized=$%.2f daily=$%.2f",
		trade.ID, trade.ExitReason, trade.RealizedPnL, daily)
}

// MonitorAll runs one evaluation pass over every active trade. A
// failure on one trade never prevents evaluation of the rest.
func (m *Manager) MonitorAll(ctx context.Context) {
	m.mu.Lock()
	trades := make([]*models.Trade, 0, len(m.active))
	for _, t := range m.active {
		trades = append(trades, t)
	}
	m.lastCheck = m.now()
	m.mu.Unlock()

	sort.Slice(trades, func(i, j int) bool { return trades[i].EntryTime.Before(trades[j].EntryTime) })

	for _, trade := range trades {
		m.monitorOne(ctx, trade)
		if ctx.Err() != nil {
			return
		}
	}
}

func (m *Manager) monitorOne(ctx context.Context, trade *models.Trade) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("Trade %s: panic during monitoring: %v", trade.ID, r)
		}
	}()

	m.mu.Lock()
	status := trade.Status
	reason := trade.ExitReason
	m.mu.Unlock()

	if status == models.StatusClosing {
		m.CloseTrade(ctx, trade, reason)
		return
	}

	exitReason, shouldExit := m.EvaluateExit(ctx, trade)
	if !shouldExit {
		return
	}

	m.logger.Printf("Trade %s: exit condition %s triggered (pnl=$%.2f DTE=%d)",
		trade.ID, exitReason, trade.UnrealizedPnL, trade.DTE)
	m.CloseTrade(ctx, trade, exitReason)
}

// ActiveTrades returns copies of all active trades, oldest first.
func (m *Manager) ActiveTrades() []models.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()

	trades := make([]models.Trade, 0, len(m.active))
	for _, t := range m.active {
		trades = append(trades, *t)
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].EntryTime.Before(trades[j].EntryTime) })
	return trades
}

// ClosedTrades returns copies of all trades closed this session,
// oldest first.
func (m *Manager) ClosedTrades() []models.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()

	trades := make([]models.Trade, 0, len(m.closed))
	for _, t := range m.closed {
		trades = append(trades, *t)
	}
	return trades
}

// GetSummary aggregates portfolio state. With no trades it returns a
// zeroed summary.
func (m *Manager) GetSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		ActiveTrades: len(m.active),
		ClosedTrades: len(m.closed),
		DailyPnL:     util.Round2(m.dailyPnL),
		LastCheck:    m.lastCheck,
	}

	for _, t := range m.active {
		s.TotalCredit += t.EntryCredit
		s.TotalRisk += t.MaxLoss
		s.UnrealizedPnL += t.UnrealizedPnL
	}

	var wins, losses int
	var grossWin, grossLoss float64
	for _, t := range m.closed {
		s.RealizedPnL += t.RealizedPnL
		if t.RealizedPnL > 0 {
			wins++
			grossWin += t.RealizedPnL
		} else if t.RealizedPnL < 0 {
			losses++
			grossLoss += -t.RealizedPnL
		}
	}

	if len(m.closed) > 0 {
		s.WinRate = float64(wins) / float64(len(m.closed))
	}
	if wins > 0 {
		s.AverageWin = util.Round2(grossWin / float64(wins))
	}
	if losses > 0 {
		s.AverageLoss = util.Round2(-grossLoss / float64(losses))
	}
	if grossLoss > 0 {
		s.ProfitFactor = util.Round2(grossWin / grossLoss)
	}

	s.TotalCredit = util.Round2(s.TotalCredit)
	s.TotalRisk = util.Round2(s.TotalRisk)
	s.UnrealizedPnL = util.Round2(s.UnrealizedPnL)
	s.RealizedPnL = util.Round2(s.RealizedPnL)

	return s
}

// persistActive saves the current active set to storage. Persistence
// failures are logged, not fatal.
func (m *Manager) persistActive() {
	trades := m.ActiveTrades()
	if err := m.storage.SaveActiveTrades(trades); err != nil {
		m.logger.Printf("Failed to persist active trades: %v", err)
	}
}
