// Package ai – negotiation counter-offers.
//
// The Negotiator renders the negotiation context into a fixed prompt,
// calls the text-generation service once, and degrades gracefully: a
// malformed model answer becomes a deterministic fallback payload, never
// an error, so a negotiation thread is not broken by a bad generation.
// Only transport-level failures (timeout, rate limit, quota) surface as
// errors, and they leave the negotiation untouched.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradeloom/marketplace-backend/internal/domain"
)

// negotiationTemperature biases generations toward consistent, moderately
// creative responses.
const negotiationTemperature = 0.8

// Acceptance recommendations the model may return.
const (
	RecommendSuggest = "suggest"
	RecommendAccept  = "accept"
	RecommendCounter = "counter"
)

// TextGenerator is the single-call contract the Negotiator needs from the
// model client. *Client satisfies it; tests substitute a canned generator.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string, temperature float64) (string, error)
}

// NegotiationContext is everything the model sees when producing a
// counter-offer.
type NegotiationContext struct {
	Product      *domain.Product
	CurrentOffer decimal.Decimal
	BuyerMessage string
	History      []domain.NegotiationMessage
}

// CounterOffer is the structured result of an AI negotiation round.
// CounterOffer is nil when the model declined to name a price.
type CounterOffer struct {
	Response                 string           `json:"response"`
	CounterOffer             *decimal.Decimal `json:"counter_offer"`
	Reasoning                string           `json:"reasoning"`
	AcceptanceRecommendation string           `json:"acceptance_recommendation"`
	MarketJustification      string           `json:"market_justification"`
}

// FallbackCounterOffer is the deterministic payload returned when the
// model's output cannot be parsed into a structured offer.
func FallbackCounterOffer() *CounterOffer {
	return &CounterOffer{
		Response:                 "Sorry, I could not generate a proper negotiation response. Please try again.",
		CounterOffer:             nil,
		Reasoning:                "",
		AcceptanceRecommendation: RecommendCounter,
		MarketJustification:      "",
	}
}

// Negotiator produces counter-offers for active negotiations.
type Negotiator struct {
	Gen TextGenerator
}

// NewNegotiator constructs a Negotiator over the given text generator.
func NewNegotiator(gen TextGenerator) *Negotiator {
	return &Negotiator{Gen: gen}
}

// NegotiatePrice asks the model for a counter-offer. Transport failures
// are returned as errors (the caller leaves the negotiation unchanged);
// unparsable output degrades to FallbackCounterOffer with a nil error.
func (n *Negotiator) NegotiatePrice(ctx context.Context, nc NegotiationContext) (*CounterOffer, error) {
	raw, err := n.Gen.GenerateContent(ctx, negotiationPrompt(nc), negotiationTemperature)
	if err != nil {
		return nil, err
	}

	obj, ok := ExtractJSON(raw)
	if !ok {
		log.Warn().Str("component", "ai").Msg("counter-offer output was not valid JSON, using fallback")
		return FallbackCounterOffer(), nil
	}

	co := &CounterOffer{
		Response:                 NormalizeString(obj["response"], FallbackCounterOffer().Response),
		CounterOffer:             NormalizeDecimal(obj["counterOffer"]),
		Reasoning:                NormalizeString(obj["reasoning"], ""),
		AcceptanceRecommendation: normalizeRecommendation(obj["acceptanceRecommendation"]),
		MarketJustification:      NormalizeString(obj["marketJustification"], ""),
	}
	return co, nil
}

// normalizeRecommendation clamps the model's recommendation onto the
// allowed set, defaulting to "counter".
func normalizeRecommendation(raw json.RawMessage) string {
	switch v := strings.ToLower(NormalizeString(raw, RecommendCounter)); v {
	case RecommendSuggest, RecommendAccept, RecommendCounter:
		return v
	default:
		return RecommendCounter
	}
}

// negotiationPrompt renders the fixed prompt template: product facts, the
// running offer, the buyer's latest message, and the prior transcript.
func negotiationPrompt(nc NegotiationContext) string {
	history, _ := json.Marshal(historyForPrompt(nc.History))

	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI negotiation assistant for a B2B marketplace. Help negotiate the best price for both parties.\n\n")
	fmt.Fprintf(&b, "Product Details:\n")
	fmt.Fprintf(&b, "- Name: %s\n", nc.Product.Name)
	fmt.Fprintf(&b, "- Listed Price: $%s\n", nc.Product.Price.String())
	fmt.Fprintf(&b, "- Current Offer: $%s\n", nc.CurrentOffer.String())
	fmt.Fprintf(&b, "- Min Order Quantity: %d\n\n", nc.Product.MinOrderQuantity)
	fmt.Fprintf(&b, "Buyer's Latest Message: %q\n\n", nc.BuyerMessage)
	fmt.Fprintf(&b, "Negotiation History: %s\n\n", history)
	b.WriteString(`Provide a negotiation response in JSON format:
{
  "response": "Professional response to the buyer",
  "counterOffer": number,
  "reasoning": "Why this counter-offer makes sense",
  "acceptanceRecommendation": "suggest" | "accept" | "counter",
  "marketJustification": "Market-based reasoning for the price"
}`)
	return b.String()
}

// promptMessage is the compact transcript entry embedded in prompts.
type promptMessage struct {
	Sender  string `json:"sender"`
	Message string `json:"message,omitempty"`
	Offer   string `json:"offer,omitempty"`
}

func historyForPrompt(msgs []domain.NegotiationMessage) []promptMessage {
	out := make([]promptMessage, 0, len(msgs))
	for _, m := range msgs {
		pm := promptMessage{Sender: m.Sender, Message: m.Message}
		if m.Offer != nil {
			pm.Offer = m.Offer.String()
		}
		out = append(out, pm)
	}
	return out
}
