package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-spread-bot/internal/broker"
	"credit-spread-bot/internal/lifecycle"
	"credit-spread-bot/internal/models"
	"credit-spread-bot/internal/storage"
)

type noopBroker struct{}

func (noopBroker) GetAccountBalance(context.Context) (float64, error) { return 0, nil }

func (noopBroker) GetQuote(_ context.Context, symbol string) (*broker.Quote, error) {
	return &broker.Quote{Symbol: symbol}, nil
}

func (noopBroker) GetOptionChain(context.Context, string, string) ([]models.OptionLeg, error) {
	return nil, nil
}

func (noopBroker) SubmitClose(context.Context, string, broker.OrderSide, int) (string, error) {
	return "", nil
}

func (noopBroker) GetOrderStatus(context.Context, string) (broker.FillState, error) {
	return broker.FillPending, nil
}

func quietLogrus() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(t *testing.T, authToken string) (*Server, *lifecycle.Manager, *storage.MockStorage) {
	t.Helper()
	store := storage.NewMockStorage()
	manager := lifecycle.NewManager(noopBroker{}, store, models.DefaultRules(), log.New(io.Discard, "", 0))
	server := NewServer(Config{
		AuthToken:       authToken,
		SummaryInterval: 10 * time.Millisecond,
	}, manager, store, quietLogrus())
	return server, manager, store
}

func addOpenTrade(t *testing.T, m *lifecycle.Manager) *models.Trade {
	t.Helper()
	exp := time.Now().UTC().AddDate(0, 0, 30).Format("2006-01-02")
	trade, err := m.AddTrade(lifecycle.TradeTerms{
		Symbol:     "SPY",
		SpreadType: models.SpreadPutCredit,
		ShortLeg: models.OptionLeg{
			Symbol: "SPY-P470", Underlying: "SPY", Strike: 470,
			Expiration: exp, Kind: models.OptionKindPut,
		},
		LongLeg: models.OptionLeg{
			Symbol: "SPY-P465", Underlying: "SPY", Strike: 465,
			Expiration: exp, Kind: models.OptionKindPut,
		},
		Contracts:   1,
		EntryCredit: 110,
		MaxLoss:     390,
	})
	require.NoError(t, err)
	return trade
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestCreateTradeManually(t *testing.T) {
	server, manager, store := newTestServer(t, "")

	exp := time.Now().UTC().AddDate(0, 0, 21).Format("2006-01-02")
	payload := createTradeRequest{
		Symbol:     "QQQ",
		SpreadType: models.SpreadCallCredit,
		ShortLeg: models.OptionLeg{
			Symbol: "QQQ-C500", Underlying: "QQQ", Strike: 500,
			Expiration: exp, Kind: models.OptionKindCall,
		},
		LongLeg: models.OptionLeg{
			Symbol: "QQQ-C505", Underlying: "QQQ", Strike: 505,
			Expiration: exp, Kind: models.OptionKindCall,
		},
		Contracts:   1,
		EntryCredit: 130,
		MaxLoss:     370,
		Rationale:   "earnings fade",
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trades", bytes.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "manual_entry", created.Strategy)
	assert.Equal(t, models.StatusOpen, created.Status)
	assert.InDelta(t, 130*0.35, created.ProfitTarget, 1e-9)

	require.Len(t, manager.ActiveTrades(), 1)
	assert.Equal(t, 1, store.SaveCallCount())
}

func TestCreateTradeRejectsInvalidTerms(t *testing.T) {
	server, manager, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trades",
		strings.NewReader(`{"symbol": "SPY", "spread_type": "put_credit", "contracts": 0, "max_loss": 100}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trades",
		strings.NewReader(`{not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, manager.ActiveTrades())
}

func TestGetTrades(t *testing.T) {
	server, manager, _ := newTestServer(t, "")
	trade := addOpenTrade(t, manager)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var trades []models.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, trade.ID, trades[0].ID)
	assert.Equal(t, models.StatusOpen, trades[0].Status)
}

func TestGetSummary(t *testing.T) {
	server, manager, _ := newTestServer(t, "")
	addOpenTrade(t, manager)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var summary lifecycle.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.ActiveTrades)
	assert.InDelta(t, 110.0, summary.TotalCredit, 1e-9)
}

func TestRulesRoundTrip(t *testing.T) {
	server, manager, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rules", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rules models.ManagementRules
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	assert.InDelta(t, 0.35, rules.ProfitTargetPct, 1e-9)

	rules.ProfitTargetPct = 0.50
	body, err := json.Marshal(rules)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/rules", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.50, manager.Rules().ProfitTargetPct, 1e-9)
}

func TestUpdateRulesRejectsInvalid(t *testing.T) {
	server, manager, _ := newTestServer(t, "")

	rules := models.DefaultRules()
	rules.ProfitTargetPct = 2.0
	body, err := json.Marshal(rules)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/rules", bytes.NewReader(body)))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.InDelta(t, 0.35, manager.Rules().ProfitTargetPct, 1e-9)
}

func TestUpdateRulesRejectsMalformedJSON(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/rules", strings.NewReader("{oops")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	server, _, _ := newTestServer(t, "secret")

	// No token
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Header token
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	req.Header.Set("X-Auth-Token", "secret")
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Query token
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades?token=secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetStatistics(t *testing.T) {
	server, _, store := newTestServer(t, "")
	require.NoError(t, store.RecordClosedTrade(models.Trade{
		RealizedPnL: 75,
		ExitTime:    time.Now(),
	}))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/statistics", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var stats storage.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalTrades)
	assert.InDelta(t, 75.0, stats.TotalPnL, 1e-9)
}

func TestWebsocketStreamsSummary(t *testing.T) {
	server, manager, _ := newTestServer(t, "")
	addOpenTrade(t, manager)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var summary lifecycle.Summary
	require.NoError(t, conn.ReadJSON(&summary))
	assert.Equal(t, 1, summary.ActiveTrades)

	// Ticker keeps the updates coming.
	require.NoError(t, conn.ReadJSON(&summary))
	assert.Equal(t, 1, summary.ActiveTrades)
}
