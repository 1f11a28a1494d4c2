// Package scanner watches a list of underlyings for volatility spikes
// and turns model recommendations into managed spreads.
package scanner

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"credit-spread-bot/internal/broker"
	"credit-spread-bot/internal/lifecycle"
	"credit-spread-bot/internal/llm"
	"credit-spread-bot/internal/models"
	"credit-spread-bot/internal/util"
)

// Analyzer produces a trade recommendation for a market snapshot.
type Analyzer interface {
	Analyze(ctx context.Context, snap llm.MarketSnapshot) (llm.Recommendation, error)
}

// Config holds scanning parameters.
type Config struct {
	Symbols       []string
	MinMovePct    float64
	MinIVRank     float64
	MinConfidence float64
	MaxOpenTrades int
	// TargetDTE is the expiration window used when sampling the chain
	// for IV rank.
	TargetDTE int
}

// DefaultConfig is the default scanner configuration.
var DefaultConfig = Config{
	Symbols:       []string{"SPY", "QQQ", "IWM", "DIA"},
	MinMovePct:    1.5,
	MinIVRank:     70,
	MinConfidence: 70,
	MaxOpenTrades: 5,
	TargetDTE:     30,
}

// Result records the outcome of scanning one symbol.
type Result struct {
	Symbol        string
	Price         float64
	PercentChange float64
	IVRank        float64
	Triggered     bool
	Decision      string
	TradeID       string
}

// Scanner polls quotes, gates on move size and IV rank, and hands
// qualifying symbols to the analyzer.
type Scanner struct {
	broker   broker.Broker
	analyzer Analyzer
	manager  *lifecycle.Manager
	logger   *log.Logger
	config   Config
	now      func() time.Time
}

// New creates a scanner.
func New(b broker.Broker, analyzer Analyzer, manager *lifecycle.Manager, logger *log.Logger, config ...Config) *Scanner {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	if logger == nil {
		logger = log.New(os.Stderr, "scanner: ", log.LstdFlags)
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = DefaultConfig.Symbols
	}
	if cfg.TargetDTE <= 0 {
		cfg.TargetDTE = DefaultConfig.TargetDTE
	}

	return &Scanner{
		broker:   b,
		analyzer: analyzer,
		manager:  manager,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
}

// Scan runs one pass over all configured symbols. Per-symbol failures
// are logged and skipped so one bad quote never aborts the pass.
func (s *Scanner) Scan(ctx context.Context) []Result {
	s.logger.Printf("Starting market scan of %d symbols", len(s.config.Symbols))

	results := make([]Result, 0, len(s.config.Symbols))
	for _, symbol := range s.config.Symbols {
		if ctx.Err() != nil {
			return results
		}

		result, err := s.scanSymbol(ctx, symbol)
		if err != nil {
			s.logger.Printf("Error scanning %s: %v", symbol, err)
			continue
		}
		results = append(results, result)
	}

	return results
}

func (s *Scanner) scanSymbol(ctx context.Context, symbol string) (Result, error) {
	quote, err := s.broker.GetQuote(ctx, symbol)
	if err != nil {
		return Result{}, fmt.Errorf("fetching quote: %w", err)
	}

	ivRank := s.ivRank(ctx, symbol, quote.PercentChange)

	result := Result{
		Symbol:        symbol,
		Price:         quote.Last,
		PercentChange: quote.PercentChange,
		IVRank:        ivRank,
	}

	s.logger.Printf("%s: $%.2f (%+.2f%%) IV rank %.0f", symbol, quote.Last, quote.PercentChange, ivRank)

	if math.Abs(quote.PercentChange) < s.config.MinMovePct || ivRank < s.config.MinIVRank {
		result.Decision = "no signal"
		return result, nil
	}

	result.Triggered = true
	s.logger.Printf("VOLATILITY SPIKE: %s moved %.2f%% with IV rank %.0f", symbol, quote.PercentChange, ivRank)

	if open := len(s.manager.ActiveTrades()); open >= s.config.MaxOpenTrades {
		result.Decision = fmt.Sprintf("skipped: %d trades already open", open)
		s.logger.Printf("%s: %s", symbol, result.Decision)
		return result, nil
	}

	snap := llm.MarketSnapshot{
		Symbol:        symbol,
		CurrentPrice:  quote.Last,
		PercentChange: quote.PercentChange,
		Volume:        quote.Volume,
		IVRank:        ivRank,
	}

	rec, err := s.analyzer.Analyze(ctx, snap)
	if err != nil {
		result.Decision = "analysis failed"
		s.logger.Printf("%s: analysis failed: %v", symbol, err)
		return result, nil
	}

	switch {
	case !rec.ShouldTrade:
		result.Decision = fmt.Sprintf("no trade: %s", rec.Reasoning)
	case rec.Confidence < s.config.MinConfidence:
		result.Decision = fmt.Sprintf("no trade: confidence %.0f%% below %.0f%% threshold",
			rec.Confidence, s.config.MinConfidence)
	default:
		trade, err := s.executeRecommendation(ctx, symbol, rec)
		if err != nil {
			result.Decision = fmt.Sprintf("execution failed: %v", err)
			s.logger.Printf("%s: %s", symbol, result.Decision)
			return result, nil
		}
		result.Decision = fmt.Sprintf("executed with confidence %.0f%%", rec.Confidence)
		result.TradeID = trade.ID
	}

	s.logger.Printf("%s: %s", symbol, result.Decision)
	return result, nil
}

// ivRank estimates an IV rank for the symbol from the option chain
// around the target expiration. When no usable IV data comes back it
// falls back to a heuristic scaled off the day's move.
func (s *Scanner) ivRank(ctx context.Context, symbol string, percentChange float64) float64 {
	expiration := s.targetExpiration()
	chain, err := s.broker.GetOptionChain(ctx, symbol, expiration)
	if err != nil || len(chain) == 0 {
		return s.fallbackIVRank(percentChange)
	}

	var sum float64
	var count int
	for _, leg := range chain {
		if leg.IV > 0 {
			sum += leg.IV
			count++
		}
	}
	if count == 0 {
		return s.fallbackIVRank(percentChange)
	}

	avgIV := sum / float64(count)
	return math.Min(100, avgIV*400)
}

// fallbackIVRank approximates rank from the move itself: a big move
// usually comes with elevated implied vol.
func (s *Scanner) fallbackIVRank(percentChange float64) float64 {
	return math.Min(100, math.Abs(percentChange)*20+60)
}

func (s *Scanner) targetExpiration() string {
	return s.now().UTC().AddDate(0, 0, s.config.TargetDTE).Format("2006-01-02")
}

// executeRecommendation sizes the position against account equity,
// builds both legs, and registers the trade with the manager.
func (s *Scanner) executeRecommendation(ctx context.Context, symbol string, rec llm.Recommendation) (*models.Trade, error) {
	width := math.Abs(rec.LongStrike - rec.ShortStrike)
	if rec.ExpectedCredit <= 0 || rec.ExpectedCredit >= width {
		return nil, fmt.Errorf("expected credit %.2f outside (0, width %.2f)", rec.ExpectedCredit, width)
	}

	// Per-contract dollar risk of a credit spread: width minus credit.
	perContractLoss := (width - rec.ExpectedCredit) * 100

	contracts, err := s.sizePosition(ctx, rec.Contracts, perContractLoss)
	if err != nil {
		return nil, err
	}

	expiration := s.now().UTC().AddDate(0, 0, rec.ExpirationDays).Format("2006-01-02")
	shortLeg, longLeg, err := s.buildLegs(ctx, symbol, expiration, rec)
	if err != nil {
		return nil, err
	}

	terms := lifecycle.TradeTerms{
		Symbol:            symbol,
		Strategy:          "automated_credit_spread",
		SpreadType:        rec.SpreadType,
		ShortLeg:          shortLeg,
		LongLeg:           longLeg,
		Contracts:         contracts,
		EntryCredit:       util.Round2(rec.ExpectedCredit * 100 * float64(contracts)),
		MaxLoss:           util.Round2(perContractLoss * float64(contracts)),
		ProbabilityProfit: rec.ProbabilityProfit,
		ConfidenceScore:   rec.Confidence,
		Rationale:         rec.Reasoning,
	}

	trade, err := s.manager.AddTrade(terms)
	if err != nil {
		return nil, fmt.Errorf("registering trade: %w", err)
	}

	s.logger.Printf("EXECUTED: %s on %s, strikes $%.0f/$%.0f, credit $%.2f, contracts %d",
		rec.SpreadType, symbol, rec.ShortStrike, rec.LongStrike, terms.EntryCredit, contracts)

	return trade, nil
}

// sizePosition caps the recommended contract count so max loss stays
// within the per-trade risk fraction of account equity.
func (s *Scanner) sizePosition(ctx context.Context, recommended int, perContractLoss float64) (int, error) {
	equity, err := s.broker.GetAccountBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching account balance: %w", err)
	}

	riskBudget := equity * s.manager.Rules().MaxPositionSize
	maxContracts := int(riskBudget / perContractLoss)
	if maxContracts < 1 {
		return 0, fmt.Errorf("risk budget $%.2f cannot cover one contract ($%.2f)", riskBudget, perContractLoss)
	}

	if recommended > maxContracts {
		s.logger.Printf("Reducing position from %d to %d contracts to fit risk budget", recommended, maxContracts)
		return maxContracts, nil
	}
	return recommended, nil
}

// buildLegs resolves both legs against the live chain, synthesizing
// quotes from the recommendation when the chain has no match.
func (s *Scanner) buildLegs(ctx context.Context, symbol, expiration string, rec llm.Recommendation) (models.OptionLeg, models.OptionLeg, error) {
	kind := rec.SpreadType.Kind()

	chain, err := s.broker.GetOptionChain(ctx, symbol, expiration)
	if err != nil {
		s.logger.Printf("%s: chain lookup failed (%v), using recommendation quotes", symbol, err)
		chain = nil
	}

	shortLeg, err := s.resolveLeg(chain, symbol, expiration, kind, rec.ShortStrike, rec.ExpectedCredit+0.15)
	if err != nil {
		return models.OptionLeg{}, models.OptionLeg{}, err
	}
	longLeg, err := s.resolveLeg(chain, symbol, expiration, kind, rec.LongStrike, 0.15)
	if err != nil {
		return models.OptionLeg{}, models.OptionLeg{}, err
	}

	return shortLeg, longLeg, nil
}

func (s *Scanner) resolveLeg(chain []models.OptionLeg, symbol, expiration string, kind models.OptionKind, strike, fallbackPrice float64) (models.OptionLeg, error) {
	if leg := broker.GetLegByStrike(chain, strike, kind); leg != nil {
		return *leg, nil
	}

	occ, err := broker.FormatOCCSymbol(symbol, expiration, kind, strike)
	if err != nil {
		return models.OptionLeg{}, err
	}

	return models.OptionLeg{
		Symbol:     occ,
		Underlying: symbol,
		Strike:     strike,
		Expiration: expiration,
		Kind:       kind,
		Bid:        util.Round2(fallbackPrice),
		Ask:        util.Round2(fallbackPrice + 0.10),
	}, nil
}
