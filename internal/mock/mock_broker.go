// Package mock provides a simulated broker for paper runs and
// integration testing.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"credit-spread-bot/internal/broker"
	"credit-spread-bot/internal/models"
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1
func secureInt63n(n int64) int64 {
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return n / 2
	}
	return r.Int64()
}

type symbolState struct {
	price     float64
	openPrice float64
	midIV     float64
}

// Broker simulates the broker API: drifting quotes, generated option
// chains, and orders that fill after a configurable number of polls.
type Broker struct {
	mu          sync.Mutex
	equity      float64
	symbols     map[string]*symbolState
	orders      map[string]*simOrder
	nextOrderID int
	// FillAfterPolls is how many status checks an order stays pending
	// before it fills. Zero fills on the first check.
	FillAfterPolls int
	// RejectOrders makes every submitted order come back rejected.
	RejectOrders bool
}

type simOrder struct {
	polls int
	state broker.FillState
}

// NewBroker creates a simulated broker seeded with drifting prices for
// the given symbols.
func NewBroker(symbols ...string) *Broker {
	if len(symbols) == 0 {
		symbols = []string{"SPY", "QQQ", "IWM", "DIA"}
	}

	b := &Broker{
		equity:  100000,
		symbols: make(map[string]*symbolState, len(symbols)),
		orders:  make(map[string]*simOrder),
	}

	for _, symbol := range symbols {
		open := 100 + secureFloat64()*400
		b.symbols[symbol] = &symbolState{
			price:     open,
			openPrice: open,
			midIV:     0.12 + secureFloat64()*0.18,
		}
	}

	return b
}

// SetPrice pins a symbol's current and open prices, used to stage a
// specific percent move.
func (b *Broker) SetPrice(symbol string, open, current float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateFor(symbol)
	state.openPrice = open
	state.price = current
}

// SetIV pins a symbol's mid implied volatility.
func (b *Broker) SetIV(symbol string, iv float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateFor(symbol).midIV = iv
}

func (b *Broker) stateFor(symbol string) *symbolState {
	state, ok := b.symbols[symbol]
	if !ok {
		open := 100 + secureFloat64()*400
		state = &symbolState{price: open, openPrice: open, midIV: 0.12 + secureFloat64()*0.18}
		b.symbols[symbol] = state
	}
	return state
}

// GetAccountBalance returns the simulated account equity.
func (b *Broker) GetAccountBalance(_ context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.equity, nil
}

// GetQuote returns the symbol's quote with a small random drift applied.
func (b *Broker) GetQuote(_ context.Context, symbol string) (*broker.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateFor(symbol)
	state.price += (secureFloat64() - 0.5) * 2

	percentChange := 0.0
	if state.openPrice > 0 {
		percentChange = (state.price - state.openPrice) / state.openPrice * 100
	}

	return &broker.Quote{
		Symbol:        symbol,
		Last:          state.price,
		Open:          state.openPrice,
		PercentChange: percentChange,
		Volume:        secureInt63n(100000000),
	}, nil
}

// GetOptionChain generates a synthetic chain of puts and calls at
// 5-point strikes around the current price.
func (b *Broker) GetOptionChain(_ context.Context, symbol, expiration string) ([]models.OptionLeg, error) {
	expDate, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration format: %w", err)
	}

	dte := int(time.Until(expDate).Hours() / 24)
	if dte < 0 {
		dte = 0
	}

	b.mu.Lock()
	state := b.stateFor(symbol)
	price := state.price
	midIV := state.midIV
	b.mu.Unlock()

	strikeInterval := 5.0
	startStrike := math.Floor(price/strikeInterval)*strikeInterval - 50
	endStrike := startStrike + 100

	timeValue := math.Max(0, float64(dte)/365.0)

	var legs []models.OptionLeg
	for strike := startStrike; strike <= endStrike; strike += strikeInterval {
		distance := math.Abs(strike - price)
		deltaDecay := math.Exp(-distance * 0.02)

		putDelta := -0.5 * deltaDecay
		if strike > price {
			putDelta = -0.5 * (1 - deltaDecay)
		}
		callDelta := 0.5 * deltaDecay
		if strike < price {
			callDelta = 0.5 * (1 - deltaDecay)
		}

		putPrice := math.Max(0.5, midIV*math.Sqrt(timeValue)*price*0.01*math.Abs(putDelta)*100)
		callPrice := math.Max(0.5, midIV*math.Sqrt(timeValue)*price*0.01*math.Abs(callDelta)*100)

		for _, side := range []struct {
			kind  models.OptionKind
			mid   float64
			delta float64
		}{
			{models.OptionKindPut, putPrice, putDelta},
			{models.OptionKindCall, callPrice, callDelta},
		} {
			occ, err := broker.FormatOCCSymbol(symbol, expiration, side.kind, strike)
			if err != nil {
				return nil, err
			}

			legs = append(legs, models.OptionLeg{
				Symbol:       occ,
				Underlying:   symbol,
				Strike:       strike,
				Expiration:   expiration,
				Kind:         side.kind,
				Bid:          math.Max(0.01, side.mid-0.05),
				Ask:          side.mid + 0.05,
				Volume:       secureInt63n(10000),
				OpenInterest: secureInt63n(50000),
				Delta:        side.delta,
				Gamma:        0.1 * deltaDecay,
				Theta:        -0.04 * deltaDecay,
				Vega:         0.15 * deltaDecay,
				IV:           midIV,
			})
		}
	}

	return legs, nil
}

// SubmitClose registers a simulated closing order.
func (b *Broker) SubmitClose(_ context.Context, legSymbol string, side broker.OrderSide, quantity int) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("invalid quantity %d for %s", quantity, legSymbol)
	}
	if side != broker.SideBuy && side != broker.SideSell {
		return "", fmt.Errorf("invalid order side %q", side)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextOrderID++
	orderID := fmt.Sprintf("mock-%d", b.nextOrderID)

	state := broker.FillPending
	if b.RejectOrders {
		state = broker.FillRejected
	}
	b.orders[orderID] = &simOrder{state: state}

	return orderID, nil
}

// GetOrderStatus advances the simulated order toward its fill.
func (b *Broker) GetOrderStatus(_ context.Context, orderID string) (broker.FillState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return "", fmt.Errorf("unknown order %s", orderID)
	}

	if order.state == broker.FillPending {
		order.polls++
		if order.polls > b.FillAfterPolls {
			order.state = broker.FillFilled
		}
	}

	return order.state, nil
}

var _ broker.Broker = (*Broker)(nil)
