package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-spread-bot/internal/models"
)

func newTestClient(handler http.Handler) (*AlpacaClient, *httptest.Server) {
	ts := httptest.NewServer(handler)
	client := NewAlpacaClient("test-key", "test-secret", true).WithBaseURLs(ts.URL, ts.URL)
	return client, ts
}

func TestGetAccountBalance(t *testing.T) {
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "test-secret", r.Header.Get("APCA-API-SECRET-KEY"))
		_, _ = w.Write([]byte(`{"equity": "100432.50", "status": "ACTIVE"}`))
	}))
	defer ts.Close()

	balance, err := client.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100432.50, balance, 1e-9)
}

func TestGetAccountBalanceBadEquity(t *testing.T) {
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"equity": "not-a-number"}`))
	}))
	defer ts.Close()

	_, err := client.GetAccountBalance(context.Background())
	assert.ErrorContains(t, err, "parsing account equity")
}

func TestGetQuoteComputesPercentChange(t *testing.T) {
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/SPY/snapshot", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"latestTrade": {"p": 489.6},
			"dailyBar": {"o": 480.0, "v": 52000000}
		}`))
	}))
	defer ts.Close()

	quote, err := client.GetQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, "SPY", quote.Symbol)
	assert.InDelta(t, 489.6, quote.Last, 1e-9)
	assert.InDelta(t, 2.0, quote.PercentChange, 1e-9)
	assert.Equal(t, int64(52000000), quote.Volume)
}

func TestGetOptionChainNormalizesSnapshots(t *testing.T) {
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025-12-19", r.URL.Query().Get("expiration_date"))
		_, _ = w.Write([]byte(`{
			"snapshots": {
				"SPY251219P00480000": {
					"latestQuote": {"bp": 1.20, "ap": 1.30},
					"greeks": {"delta": -0.25, "theta": -0.08},
					"impliedVolatility": 0.22,
					"openInterest": 1500
				},
				"SPY251219C00500000": {},
				"BOGUS": {}
			}
		}`))
	}))
	defer ts.Close()

	legs, err := client.GetOptionChain(context.Background(), "SPY", "2025-12-19")
	require.NoError(t, err)
	require.Len(t, legs, 2, "unparseable symbols should be skipped")

	put := GetLegByStrike(legs, 480, models.OptionKindPut)
	require.NotNil(t, put)
	assert.Equal(t, "SPY", put.Underlying)
	assert.InDelta(t, 1.20, put.Bid, 1e-9)
	assert.InDelta(t, 1.30, put.Ask, 1e-9)
	assert.InDelta(t, -0.25, put.Delta, 1e-9)
	assert.InDelta(t, 0.22, put.IV, 1e-9)
	assert.Equal(t, int64(1500), put.OpenInterest)

	// Absent quote and greeks blocks default to zeros.
	call := GetLegByStrike(legs, 500, models.OptionKindCall)
	require.NotNil(t, call)
	assert.Zero(t, call.Bid)
	assert.Zero(t, call.Delta)
}

func TestSubmitClosePostsMarketDayOrder(t *testing.T) {
	var received map[string]string
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"id": "ord-123", "status": "accepted"}`))
	}))
	defer ts.Close()

	orderID, err := client.SubmitClose(context.Background(), "SPY251219P00480000", SideBuy, 2)
	require.NoError(t, err)
	assert.Equal(t, "ord-123", orderID)
	assert.Equal(t, map[string]string{
		"symbol":        "SPY251219P00480000",
		"qty":           "2",
		"side":          "buy",
		"type":          "market",
		"time_in_force": "day",
	}, received)
}

func TestSubmitCloseMissingID(t *testing.T) {
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "accepted"}`))
	}))
	defer ts.Close()

	_, err := client.SubmitClose(context.Background(), "SPY251219P00480000", SideBuy, 1)
	assert.ErrorContains(t, err, "no id")
}

func TestGetOrderStatusMapsBrokerStates(t *testing.T) {
	tests := []struct {
		brokerStatus string
		want         FillState
	}{
		{"filled", FillFilled},
		{"partially_filled", FillPartial},
		{"rejected", FillRejected},
		{"canceled", FillRejected},
		{"expired", FillRejected},
		{"new", FillPending},
		{"accepted", FillPending},
		{"pending_new", FillPending},
	}

	for _, tc := range tests {
		t.Run(tc.brokerStatus, func(t *testing.T) {
			client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/orders/ord-1", r.URL.Path)
				_, _ = w.Write([]byte(`{"id": "ord-1", "status": "` + tc.brokerStatus + `"}`))
			}))
			defer ts.Close()

			state, err := client.GetOrderStatus(context.Background(), "ord-1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, state)
		})
	}
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	client, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "forbidden"}`))
	}))
	defer ts.Close()

	_, err := client.GetAccountBalance(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Contains(t, apiErr.Body, "forbidden")
}

func TestParseOCCSymbol(t *testing.T) {
	tests := []struct {
		name       string
		symbol     string
		wantStrike float64
		wantKind   models.OptionKind
		wantErr    bool
	}{
		{"spy_call", "SPY250131C00450000", 450.0, models.OptionKindCall, false},
		{"spy_put", "SPY251219P00475000", 475.0, models.OptionKindPut, false},
		{"fractional_strike", "QQQ250131P00417500", 417.5, models.OptionKindPut, false},
		{"too_short", "SPY", 0, "", true},
		{"no_kind_marker", "SPY250131X00450000", 0, "", true},
		{"bad_strike_digits", "SPY250131C0045000X", 0, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			strike, kind, err := ParseOCCSymbol(tc.symbol)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.wantStrike, strike, 1e-9)
			assert.Equal(t, tc.wantKind, kind)
		})
	}
}

func TestFormatOCCSymbolRoundTrip(t *testing.T) {
	symbol, err := FormatOCCSymbol("SPY", "2025-12-19", models.OptionKindPut, 480)
	require.NoError(t, err)
	assert.Equal(t, "SPY251219P00480000", symbol)

	strike, kind, err := ParseOCCSymbol(symbol)
	require.NoError(t, err)
	assert.InDelta(t, 480.0, strike, 1e-9)
	assert.Equal(t, models.OptionKindPut, kind)

	_, err = FormatOCCSymbol("SPY", "12/19/2025", models.OptionKindPut, 480)
	assert.ErrorContains(t, err, "invalid expiration")
}

func TestGetLegByStrike(t *testing.T) {
	legs := []models.OptionLeg{
		{Symbol: "SPY251219P00480000", Strike: 480, Kind: models.OptionKindPut},
		{Symbol: "SPY251219C00480000", Strike: 480, Kind: models.OptionKindCall},
		{Symbol: "SPY251219P00475000", Strike: 475, Kind: models.OptionKindPut},
	}

	put := GetLegByStrike(legs, 480, models.OptionKindPut)
	require.NotNil(t, put)
	assert.Equal(t, "SPY251219P00480000", put.Symbol)

	call := GetLegByStrike(legs, 480, models.OptionKindCall)
	require.NotNil(t, call)
	assert.Equal(t, "SPY251219C00480000", call.Symbol)

	assert.Nil(t, GetLegByStrike(legs, 470, models.OptionKindPut))

	// Matching tolerates float noise within the epsilon.
	near := GetLegByStrike(legs, 475.0000004, models.OptionKindPut)
	require.NotNil(t, near)
	assert.Equal(t, "SPY251219P00475000", near.Symbol)
}
