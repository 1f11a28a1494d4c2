package broker

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"credit-spread-bot/internal/models"

	"github.com/sony/gobreaker"
)

// StrikeMatchEpsilon defines the precision tolerance for matching strike prices
const StrikeMatchEpsilon = 1e-3

// OrderSide is the direction of a closing order.
type OrderSide string

const (
	// SideBuy buys back a short leg (buy-to-close).
	SideBuy OrderSide = "buy"
	// SideSell sells out a long leg (sell-to-close).
	SideSell OrderSide = "sell"
)

// FillState is the reported state of a submitted order.
type FillState string

const (
	// FillPending means the order is accepted but nothing has executed.
	FillPending FillState = "pending"
	// FillPartial means part of the requested quantity has executed.
	FillPartial FillState = "partially_filled"
	// FillFilled means the full quantity executed; terminal.
	FillFilled FillState = "filled"
	// FillRejected means the broker refused the order; terminal.
	FillRejected FillState = "rejected"
)

// Terminal reports whether the fill state can no longer change.
func (f FillState) Terminal() bool {
	return f == FillFilled || f == FillRejected
}

// Quote is a normalized underlying quote for the scanner.
type Quote struct {
	Symbol        string
	Last          float64
	Open          float64
	PercentChange float64
	Volume        int64
}

// Broker is the combined market-data and order gateway the core depends
// on. Both sides are external, possibly rate-limited services: every
// method may fail transiently and must be safe to call repeatedly.
type Broker interface {
	// Account
	GetAccountBalance(ctx context.Context) (float64, error)

	// Market data
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	// GetOptionChain returns every known leg (both kinds, all strikes)
	// for the underlying and expiration date (YYYY-MM-DD). May return an
	// empty slice.
	GetOptionChain(ctx context.Context, symbol, expiration string) ([]models.OptionLeg, error)

	// Orders
	// SubmitClose places a market order for one leg and returns the
	// broker's order id.
	SubmitClose(ctx context.Context, legSymbol string, side OrderSide, quantity int) (string, error)
	GetOrderStatus(ctx context.Context, orderID string) (FillState, error)
}

// GetLegByStrike finds the leg in a chain matching strike and kind, or
// nil when the chain has no such leg.
func GetLegByStrike(legs []models.OptionLeg, strike float64, kind models.OptionKind) *models.OptionLeg {
	for i := range legs {
		if math.Abs(legs[i].Strike-strike) <= StrikeMatchEpsilon && legs[i].Kind == kind {
			return &legs[i]
		}
	}
	return nil
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
// so a flapping brokerage doesn't get hammered by the monitoring loop.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// execBreaker is a generic helper for circuit breaker wrapper methods
func execBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetAccountBalance wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetAccountBalance(ctx context.Context) (float64, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) (float64, error) { return b.GetAccountBalance(ctx) })
}

// GetQuote wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) (*Quote, error) { return b.GetQuote(ctx, symbol) })
}

// GetOptionChain wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, symbol, expiration string) ([]models.OptionLeg, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) ([]models.OptionLeg, error) {
		return b.GetOptionChain(ctx, symbol, expiration)
	})
}

// SubmitClose wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) SubmitClose(ctx context.Context, legSymbol string, side OrderSide, quantity int) (string, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) (string, error) {
		return b.SubmitClose(ctx, legSymbol, side, quantity)
	})
}

// GetOrderStatus wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, orderID string) (FillState, error) {
	return execBreaker(c.breaker, c.broker, func(b Broker) (FillState, error) {
		return b.GetOrderStatus(ctx, orderID)
	})
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)
