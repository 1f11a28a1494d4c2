package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"credit-spread-bot/internal/models"
)

// MarketSnapshot carries the signal data handed to the model for one
// candidate underlying.
type MarketSnapshot struct {
	Symbol        string
	CurrentPrice  float64
	PercentChange float64
	Volume        int64
	IVRank        float64
}

// Recommendation is the structured trade recommendation parsed from
// the model's response. ShouldTrade is false whenever the response
// cannot be parsed or fails validation.
type Recommendation struct {
	ShouldTrade       bool              `json:"should_trade"`
	SpreadType        models.SpreadType `json:"spread_type"`
	ShortStrike       float64           `json:"short_strike"`
	LongStrike        float64           `json:"long_strike"`
	ExpirationDays    int               `json:"expiration_days"`
	Contracts         int               `json:"contracts"`
	ExpectedCredit    float64           `json:"expected_credit"`
	ProbabilityProfit float64           `json:"probability_profit"`
	Confidence        float64           `json:"confidence"`
	Reasoning         string            `json:"reasoning"`
}

// Analyzer asks the model whether a market move warrants a credit
// spread.
type Analyzer struct {
	client *Client
	logger *log.Logger
}

// NewAnalyzer creates an analyzer backed by the given client.
func NewAnalyzer(client *Client, logger *log.Logger) *Analyzer {
	if logger == nil {
		logger = log.New(os.Stderr, "llm: ", log.LstdFlags)
	}
	return &Analyzer{client: client, logger: logger}
}

const systemPrompt = "You are an options trading analyst specializing in " +
	"volatility credit spreads. Respond only with the requested JSON object."

func buildPrompt(snap MarketSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this market move for a volatility credit spread opportunity:\n\n")
	fmt.Fprintf(&b, "Symbol: %s\n", snap.Symbol)
	fmt.Fprintf(&b, "Current Price: $%.2f\n", snap.CurrentPrice)
	fmt.Fprintf(&b, "Today's Move: %.2f%%\n", snap.PercentChange)
	fmt.Fprintf(&b, "Volume: %d\n", snap.Volume)
	fmt.Fprintf(&b, "IV Rank: %.1f\n\n", snap.IVRank)
	b.WriteString(`Rules:
1. If move DOWN >1.5%: Consider CALL credit spread
2. If move UP >1.5%: Consider PUT credit spread
3. IV Rank must be >70 for good premiums
4. Target strikes 1.5-2 standard deviations away

Respond in JSON only:
{
    "should_trade": true/false,
    "spread_type": "call_credit" or "put_credit" or null,
    "short_strike": price or null,
    "long_strike": price or null,
    "expiration_days": number or null,
    "contracts": number or null,
    "expected_credit": amount or null,
    "probability_profit": percentage or null,
    "confidence": 0-100,
    "reasoning": "brief explanation"
}`)
	return b.String()
}

// Analyze asks the model whether to trade the snapshot. It never
// returns an unvetted positive: any parse or validation failure comes
// back as a no-trade recommendation with a nil error, so one bad
// response cannot stop the scan loop.
func (a *Analyzer) Analyze(ctx context.Context, snap MarketSnapshot) (Recommendation, error) {
	text, err := a.client.Complete(ctx, systemPrompt, buildPrompt(snap))
	if err != nil {
		return Recommendation{}, fmt.Errorf("analyzing %s: %w", snap.Symbol, err)
	}

	rec, err := ParseRecommendation(text)
	if err != nil {
		a.logger.Printf("Could not parse model response for %s: %v", snap.Symbol, err)
		return Recommendation{}, nil
	}

	if rec.ShouldTrade {
		if err := rec.validate(); err != nil {
			a.logger.Printf("Rejecting recommendation for %s: %v", snap.Symbol, err)
			return Recommendation{}, nil
		}
	}

	return rec, nil
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// stripMarkdownCodeBlock removes markdown code fences from model
// responses, e.g. ```json\n{...}\n```.
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if matches := codeBlockRe.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return response
}

// extractJSON pulls the outermost JSON object out of free text.
func extractJSON(text string) (string, bool) {
	text = stripMarkdownCodeBlock(text)

	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}
	end := strings.LastIndex(text, "}")
	if end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// ParseRecommendation extracts and decodes a recommendation from raw
// model output.
func ParseRecommendation(text string) (Recommendation, error) {
	payload, ok := extractJSON(text)
	if !ok {
		return Recommendation{}, fmt.Errorf("no JSON object in response")
	}

	var rec Recommendation
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return Recommendation{}, fmt.Errorf("decoding recommendation: %w", err)
	}
	return rec, nil
}

func (r *Recommendation) validate() error {
	switch r.SpreadType {
	case models.SpreadCallCredit, models.SpreadPutCredit:
	default:
		return fmt.Errorf("unknown spread type %q", r.SpreadType)
	}

	if r.ShortStrike <= 0 || r.LongStrike <= 0 {
		return fmt.Errorf("strikes must be positive (short=%.2f long=%.2f)", r.ShortStrike, r.LongStrike)
	}
	if r.ShortStrike == r.LongStrike {
		return fmt.Errorf("short and long strikes are equal (%.2f)", r.ShortStrike)
	}

	// The long leg is protection: further OTM than the short leg.
	if r.SpreadType == models.SpreadCallCredit && r.LongStrike < r.ShortStrike {
		return fmt.Errorf("call credit long strike %.2f below short strike %.2f", r.LongStrike, r.ShortStrike)
	}
	if r.SpreadType == models.SpreadPutCredit && r.LongStrike > r.ShortStrike {
		return fmt.Errorf("put credit long strike %.2f above short strike %.2f", r.LongStrike, r.ShortStrike)
	}

	if r.ExpirationDays <= 0 {
		return fmt.Errorf("expiration days must be positive, got %d", r.ExpirationDays)
	}
	if r.Contracts <= 0 {
		return fmt.Errorf("contracts must be positive, got %d", r.Contracts)
	}
	if r.ProbabilityProfit < 0 || r.ProbabilityProfit > 100 {
		return fmt.Errorf("probability of profit %.1f out of range", r.ProbabilityProfit)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("confidence %.1f out of range", r.Confidence)
	}
	return nil
}
