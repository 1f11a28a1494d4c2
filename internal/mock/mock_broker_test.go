package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-spread-bot/internal/broker"
	"credit-spread-bot/internal/models"
)

func TestGetQuoteReflectsStagedMove(t *testing.T) {
	b := NewBroker("SPY")
	b.SetPrice("SPY", 480, 490.08)

	q, err := b.GetQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, "SPY", q.Symbol)
	// Drift is at most +/-1 around the staged price.
	assert.InDelta(t, 490.08, q.Last, 1.01)
	assert.Greater(t, q.PercentChange, 1.5)
}

func TestGetOptionChainShape(t *testing.T) {
	b := NewBroker("SPY")
	b.SetPrice("SPY", 480, 480)

	exp := time.Now().UTC().AddDate(0, 0, 30).Format("2006-01-02")
	chain, err := b.GetOptionChain(context.Background(), "SPY", exp)
	require.NoError(t, err)
	require.NotEmpty(t, chain)

	// 21 strikes, put and call at each.
	assert.Equal(t, 42, len(chain))

	for _, leg := range chain {
		assert.Equal(t, "SPY", leg.Underlying)
		assert.Equal(t, exp, leg.Expiration)
		assert.Greater(t, leg.Ask, leg.Bid)
		assert.Greater(t, leg.IV, 0.0)

		strike, kind, err := broker.ParseOCCSymbol(leg.Symbol)
		require.NoError(t, err)
		assert.InDelta(t, leg.Strike, strike, 1e-9)
		assert.Equal(t, leg.Kind, kind)
	}
}

func TestGetOptionChainRejectsBadExpiration(t *testing.T) {
	b := NewBroker("SPY")
	_, err := b.GetOptionChain(context.Background(), "SPY", "06/02/2025")
	assert.Error(t, err)
}

func TestOrdersFillAfterConfiguredPolls(t *testing.T) {
	b := NewBroker("SPY")
	b.FillAfterPolls = 2

	id, err := b.SubmitClose(context.Background(), "SPY251219P00480000", broker.SideBuy, 1)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		state, err := b.GetOrderStatus(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, broker.FillPending, state)
	}

	state, err := b.GetOrderStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, broker.FillFilled, state)
}

func TestRejectOrdersMode(t *testing.T) {
	b := NewBroker("SPY")
	b.RejectOrders = true

	id, err := b.SubmitClose(context.Background(), "SPY251219P00480000", broker.SideSell, 1)
	require.NoError(t, err)

	state, err := b.GetOrderStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, broker.FillRejected, state)
}

func TestSubmitCloseValidation(t *testing.T) {
	b := NewBroker("SPY")

	_, err := b.SubmitClose(context.Background(), "SPY251219P00480000", broker.SideBuy, 0)
	assert.Error(t, err)

	_, err = b.SubmitClose(context.Background(), "SPY251219P00480000", "hold", 1)
	assert.Error(t, err)
}

func TestGetOrderStatusUnknownOrder(t *testing.T) {
	b := NewBroker("SPY")
	_, err := b.GetOrderStatus(context.Background(), "mock-999")
	assert.Error(t, err)
}

func TestChainSupportsLifecycleLegLookup(t *testing.T) {
	b := NewBroker("SPY")
	b.SetPrice("SPY", 480, 480)

	exp := time.Now().UTC().AddDate(0, 0, 30).Format("2006-01-02")
	chain, err := b.GetOptionChain(context.Background(), "SPY", exp)
	require.NoError(t, err)

	leg := broker.GetLegByStrike(chain, 470, models.OptionKindPut)
	require.NotNil(t, leg)
	assert.InDelta(t, 470.0, leg.Strike, 1e-9)
	assert.Equal(t, models.OptionKindPut, leg.Kind)
}
