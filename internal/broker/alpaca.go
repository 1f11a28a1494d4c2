// Package broker provides the market-data and order gateways for the
// trading bot. It includes the Alpaca API client used against the paper
// trading environment.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"credit-spread-bot/internal/models"
)

const (
	paperTradingURL = "https://paper-api.alpaca.markets"
	liveTradingURL  = "https://api.alpaca.markets"
	marketDataURL   = "https://data.alpaca.markets"
)

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// AlpacaClient talks to the Alpaca trading and market-data APIs. All
// responses are normalized into the models types at this boundary so the
// rest of the system never sees the SDK's schema.
type AlpacaClient struct {
	client     *http.Client
	apiKey     string
	secretKey  string
	tradingURL string
	dataURL    string
	paper      bool
}

// NewAlpacaClient creates a client against the paper or live trading
// endpoint. Market data always comes from the shared data host.
func NewAlpacaClient(apiKey, secretKey string, paper bool) *AlpacaClient {
	tradingURL := liveTradingURL
	if paper {
		tradingURL = paperTradingURL
	}
	return &AlpacaClient{
		client:     &http.Client{Timeout: 15 * time.Second},
		apiKey:     apiKey,
		secretKey:  secretKey,
		tradingURL: tradingURL,
		dataURL:    marketDataURL,
		paper:      paper,
	}
}

// WithBaseURLs overrides the trading and data hosts; used by tests.
func (a *AlpacaClient) WithBaseURLs(tradingURL, dataURL string) *AlpacaClient {
	if tradingURL != "" {
		a.tradingURL = tradingURL
	}
	if dataURL != "" {
		a.dataURL = dataURL
	}
	return a
}

// WithHTTPClient replaces the HTTP client; used by tests.
func (a *AlpacaClient) WithHTTPClient(c *http.Client) *AlpacaClient {
	if c != nil {
		a.client = c
	}
	return a
}

// ============ API response structures ============

// accountResponse mirrors GET /v2/account. Alpaca returns dollar fields
// as strings.
type accountResponse struct {
	Equity string `json:"equity"`
	Status string `json:"status"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Symbol string `json:"symbol"`
}

type stockSnapshotResponse struct {
	LatestTrade struct {
		Price float64 `json:"p"`
	} `json:"latestTrade"`
	DailyBar struct {
		Open   float64 `json:"o"`
		Volume int64   `json:"v"`
	} `json:"dailyBar"`
}

// optionSnapshot is one entry of the option-chain snapshot payload.
// Quote and greeks are nested and frequently absent; normalization
// defaults every missing field to zero.
type optionSnapshot struct {
	LatestQuote *struct {
		BidPrice float64 `json:"bp"`
		AskPrice float64 `json:"ap"`
	} `json:"latestQuote"`
	LatestTrade *struct {
		Volume int64 `json:"s"`
	} `json:"latestTrade"`
	Greeks *struct {
		Delta float64 `json:"delta"`
		Gamma float64 `json:"gamma"`
		Theta float64 `json:"theta"`
		Vega  float64 `json:"vega"`
	} `json:"greeks"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	OpenInterest      int64   `json:"openInterest"`
}

type optionChainResponse struct {
	Snapshots     map[string]optionSnapshot `json:"snapshots"`
	NextPageToken *string                   `json:"next_page_token"`
}

// ============ API methods ============

// GetAccountBalance returns the account's total equity in dollars.
func (a *AlpacaClient) GetAccountBalance(ctx context.Context) (float64, error) {
	var resp accountResponse
	if err := a.doRequest(ctx, http.MethodGet, a.tradingURL+"/v2/account", nil, &resp); err != nil {
		return 0, err
	}
	equity, err := strconv.ParseFloat(resp.Equity, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing account equity %q: %w", resp.Equity, err)
	}
	return equity, nil
}

// GetQuote returns the latest trade price and today's move for a symbol.
func (a *AlpacaClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/snapshot", a.dataURL, url.PathEscape(symbol))
	var resp stockSnapshotResponse
	if err := a.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	q := &Quote{
		Symbol: symbol,
		Last:   resp.LatestTrade.Price,
		Open:   resp.DailyBar.Open,
		Volume: resp.DailyBar.Volume,
	}
	if q.Open > 0 {
		q.PercentChange = (q.Last - q.Open) / q.Open * 100
	}
	return q, nil
}

// GetOptionChain fetches the option snapshot chain for an underlying and
// expiration and normalizes every entry into an OptionLeg. Entries whose
// symbol cannot be parsed are skipped, not fatal.
func (a *AlpacaClient) GetOptionChain(ctx context.Context, symbol, expiration string) ([]models.OptionLeg, error) {
	endpoint := fmt.Sprintf("%s/v1beta1/options/snapshots/%s?expiration_date=%s&limit=500",
		a.dataURL, url.PathEscape(symbol), url.QueryEscape(expiration))

	var resp optionChainResponse
	if err := a.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	legs := make([]models.OptionLeg, 0, len(resp.Snapshots))
	for occSymbol, snap := range resp.Snapshots {
		leg, err := normalizeSnapshot(symbol, occSymbol, expiration, snap)
		if err != nil {
			log.Printf("Skipping unparseable option symbol %s: %v", occSymbol, err)
			continue
		}
		legs = append(legs, leg)
	}
	return legs, nil
}

// SubmitClose places a market day order for one leg.
func (a *AlpacaClient) SubmitClose(ctx context.Context, legSymbol string, side OrderSide, quantity int) (string, error) {
	body := map[string]string{
		"symbol":        legSymbol,
		"qty":           strconv.Itoa(quantity),
		"side":          string(side),
		"type":          "market",
		"time_in_force": "day",
	}
	var resp orderResponse
	if err := a.doRequest(ctx, http.MethodPost, a.tradingURL+"/v2/orders", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("order accepted but response carried no id (status %q)", resp.Status)
	}
	return resp.ID, nil
}

// GetOrderStatus fetches an order and maps the broker's status string
// onto the gateway's fill states.
func (a *AlpacaClient) GetOrderStatus(ctx context.Context, orderID string) (FillState, error) {
	endpoint := fmt.Sprintf("%s/v2/orders/%s", a.tradingURL, url.PathEscape(orderID))
	var resp orderResponse
	if err := a.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", err
	}
	return mapOrderStatus(resp.Status), nil
}

// mapOrderStatus collapses Alpaca's order states onto the four fill
// states the core understands. Cancellations and expirations count as
// rejections: the close did not happen and must be retried.
func mapOrderStatus(status string) FillState {
	switch strings.ToLower(status) {
	case "filled":
		return FillFilled
	case "partially_filled":
		return FillPartial
	case "rejected", "canceled", "cancelled", "expired", "stopped", "suspended":
		return FillRejected
	default:
		// new, accepted, pending_new, accepted_for_bidding, held, ...
		return FillPending
	}
}

// normalizeSnapshot converts one option snapshot into an OptionLeg with
// explicit defaulting: absent quote, trade, or greeks blocks become
// zeros rather than lookups against the raw payload downstream.
func normalizeSnapshot(underlying, occSymbol, expiration string, snap optionSnapshot) (models.OptionLeg, error) {
	strike, kind, err := ParseOCCSymbol(occSymbol)
	if err != nil {
		return models.OptionLeg{}, err
	}

	leg := models.OptionLeg{
		Symbol:       occSymbol,
		Underlying:   underlying,
		Strike:       strike,
		Expiration:   expiration,
		Kind:         kind,
		IV:           snap.ImpliedVolatility,
		OpenInterest: snap.OpenInterest,
	}
	if snap.LatestQuote != nil {
		leg.Bid = snap.LatestQuote.BidPrice
		leg.Ask = snap.LatestQuote.AskPrice
	}
	if snap.LatestTrade != nil {
		leg.Volume = snap.LatestTrade.Volume
	}
	if snap.Greeks != nil {
		leg.Delta = snap.Greeks.Delta
		leg.Gamma = snap.Greeks.Gamma
		leg.Theta = snap.Greeks.Theta
		leg.Vega = snap.Greeks.Vega
	}
	return leg, nil
}

// ParseOCCSymbol extracts the strike and option kind from an OCC-format
// option symbol: TICKER[YYMMDD][C/P][STRIKE*1000 padded to 8 digits],
// e.g. SPY250131C00450000 -> 450.00, call.
func ParseOCCSymbol(symbol string) (float64, models.OptionKind, error) {
	if len(symbol) < 15 {
		return 0, "", fmt.Errorf("option symbol too short: %s", symbol)
	}

	// The kind marker sits 9 characters from the end (C/P + 8 strike digits).
	kindPos := len(symbol) - 9
	var kind models.OptionKind
	switch symbol[kindPos] {
	case 'C':
		kind = models.OptionKindCall
	case 'P':
		kind = models.OptionKindPut
	default:
		return 0, "", fmt.Errorf("no option kind (C/P) marker in symbol: %s", symbol)
	}

	strikeInt, err := strconv.ParseInt(symbol[kindPos+1:], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid strike format in symbol %s: %w", symbol, err)
	}
	return float64(strikeInt) / 1000.0, kind, nil
}

// FormatOCCSymbol builds the OCC contract symbol for an underlying,
// expiration ("2006-01-02"), kind, and strike.
func FormatOCCSymbol(underlying, expiration string, kind models.OptionKind, strike float64) (string, error) {
	exp, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return "", fmt.Errorf("invalid expiration %q: %w", expiration, err)
	}

	marker := "P"
	if kind == models.OptionKindCall {
		marker = "C"
	}

	return fmt.Sprintf("%s%s%s%08d", underlying, exp.Format("060102"), marker, int64(math.Round(strike*1000))), nil
}

func (a *AlpacaClient) doRequest(ctx context.Context, method, endpoint string, body interface{}, response interface{}) error {
	var req *http.Request
	var err error

	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return merr
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/json")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("APCA-API-KEY-ID", a.apiKey)
	req.Header.Add("APCA-API-SECRET-KEY", a.secretKey)
	req.Header.Add("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(raw))}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// Ensure AlpacaClient implements Broker at compile time.
var _ Broker = (*AlpacaClient)(nil)
