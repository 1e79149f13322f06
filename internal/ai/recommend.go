// Package ai – vendor price recommendations.
//
// This variant shares the defensive parsing machinery with the negotiator
// but has a stricter contract (all structured fields required) and its own
// retry policy: up to three attempts with exponential backoff and jitter,
// retrying only rate-limit-class failures. Quota exhaustion is permanent
// and surfaces as ErrQuotaExceeded immediately so the caller can show a
// billing-specific message.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradeloom/marketplace-backend/internal/domain"
)

const (
	recommendTemperature = 0.7
	recommendAttempts    = 3
	recommendBaseDelay   = 500 * time.Millisecond
)

// ErrUnparsableRecommendation is returned when the model's output, after
// extraction, does not satisfy the recommendation schema. Unlike the
// negotiation path there is no partial fallback: a recommendation without
// a price is useless to the vendor.
var ErrUnparsableRecommendation = errors.New("ai: recommendation output could not be parsed")

// MarketData is optional context a caller may supply alongside a product.
type MarketData struct {
	AvgPrice    *decimal.Decimal
	DemandTrend string
	Competitors []string
}

// PriceRecommendation is the structured pricing advice for a vendor.
type PriceRecommendation struct {
	RecommendedPrice   decimal.Decimal `json:"recommended_price"`
	PriceChange        decimal.Decimal `json:"price_change"`
	PriceChangePercent decimal.Decimal `json:"price_change_percent"`
	Reasoning          string          `json:"reasoning"`
	Confidence         float64         `json:"confidence"`
	MarketAnalysis     string          `json:"market_analysis"`
}

// Recommender produces price recommendations with a bounded retry loop.
type Recommender struct {
	Gen TextGenerator

	// Attempts and BaseDelay tune the retry loop; zero values use the
	// documented defaults (3 attempts, 500ms base).
	Attempts  int
	BaseDelay time.Duration
}

// NewRecommender constructs a Recommender over the given text generator.
func NewRecommender(gen TextGenerator) *Recommender {
	return &Recommender{Gen: gen}
}

// RecommendPrice generates pricing advice for the product. Rate-limited
// attempts are retried with exponential backoff plus jitter; quota
// exhaustion and context cancellation abort immediately. After retries
// are exhausted the last transport error is returned.
func (r *Recommender) RecommendPrice(ctx context.Context, product *domain.Product, market MarketData) (*PriceRecommendation, error) {
	if product == nil || product.Name == "" {
		return nil, errors.New("ai: invalid product for price recommendation")
	}

	attempts := r.Attempts
	if attempts <= 0 {
		attempts = recommendAttempts
	}
	base := r.BaseDelay
	if base <= 0 {
		base = recommendBaseDelay
	}

	prompt := recommendPrompt(product, market)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2 // jitter
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)

	var raw string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		out, err := r.Gen.GenerateContent(ctx, prompt, recommendTemperature)
		if err != nil {
			if errors.Is(err, ErrQuotaExceeded) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, ErrRateLimited) {
				log.Warn().Int("attempt", attempt).Msg("price recommendation rate limited, backing off")
				return err
			}
			// Transport and decode failures are not retried.
			return backoff.Permanent(err)
		}
		raw = out
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}

	return parseRecommendation(raw)
}

// parseRecommendation validates the model output against the strict
// recommendation schema.
func parseRecommendation(raw string) (*PriceRecommendation, error) {
	obj, ok := ExtractJSON(raw)
	if !ok {
		return nil, ErrUnparsableRecommendation
	}

	price := NormalizeDecimal(obj["recommendedPrice"])
	change := NormalizeDecimal(obj["priceChange"])
	pct := NormalizeDecimal(obj["priceChangePercent"])
	if price == nil || change == nil || pct == nil {
		return nil, fmt.Errorf("%w: missing numeric fields", ErrUnparsableRecommendation)
	}

	confidence, ok := NormalizeFloat(obj["confidence"])
	if !ok {
		confidence = 0.5
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return &PriceRecommendation{
		RecommendedPrice:   *price,
		PriceChange:        *change,
		PriceChangePercent: *pct,
		Reasoning:          NormalizeString(obj["reasoning"], ""),
		Confidence:         confidence,
		MarketAnalysis:     NormalizeString(obj["marketAnalysis"], ""),
	}, nil
}

// recommendPrompt renders the pricing-analysis prompt.
func recommendPrompt(p *domain.Product, m MarketData) string {
	avg := "unknown"
	if m.AvgPrice != nil {
		avg = m.AvgPrice.String()
	}
	trend := m.DemandTrend
	if trend == "" {
		trend = "stable"
	}
	competitors := "[]"
	if len(m.Competitors) > 0 {
		competitors = fmt.Sprintf("%q", m.Competitors)
	}

	return fmt.Sprintf(`Analyze the following product and market data to provide optimal pricing recommendations:

Product: %s
Current Price: $%s
Stock Quantity: %d
Min Order Quantity: %d

Market Data:
- Similar products average price: %s
- Market demand trend: %s
- Competitor prices: %s

Please provide pricing recommendations in JSON only with the following structure:
{
  "recommendedPrice": number,
  "priceChange": number,
  "priceChangePercent": number,
  "reasoning": string,
  "confidence": number,
  "marketAnalysis": string
}

Ensure the output is valid JSON and nothing else.`,
		p.Name, p.Price.String(), p.StockQuantity, p.MinOrderQuantity,
		avg, trend, competitors)
}
