package ai

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyGenerator fails the first failures calls with failErr, then
// returns text.
type flakyGenerator struct {
	failures int
	failErr  error
	text     string
	calls    int
}

func (g *flakyGenerator) GenerateContent(ctx context.Context, prompt string, temperature float64) (string, error) {
	g.calls++
	if g.calls <= g.failures {
		return "", g.failErr
	}
	return g.text, nil
}

const goodRecommendation = `{
	"recommendedPrice": 1099.99,
	"priceChange": 99.99,
	"priceChangePercent": 10,
	"reasoning": "strong demand",
	"confidence": 0.85,
	"marketAnalysis": "competitors sit higher"
}`

func TestRecommendPrice_ParsesStructuredOutput(t *testing.T) {
	gen := &flakyGenerator{text: goodRecommendation}
	r := NewRecommender(gen)

	rec, err := r.RecommendPrice(context.Background(), testProduct("1000"), MarketData{})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if rec.RecommendedPrice.String() != "1099.99" {
		t.Fatalf("price = %s", rec.RecommendedPrice)
	}
	if rec.Confidence != 0.85 {
		t.Fatalf("confidence = %v", rec.Confidence)
	}
	if rec.Reasoning != "strong demand" {
		t.Fatalf("reasoning = %q", rec.Reasoning)
	}
}

func TestRecommendPrice_RetriesRateLimits(t *testing.T) {
	gen := &flakyGenerator{failures: 2, failErr: ErrRateLimited, text: goodRecommendation}
	r := &Recommender{Gen: gen, Attempts: 3, BaseDelay: time.Millisecond}

	rec, err := r.RecommendPrice(context.Background(), testProduct("1000"), MarketData{})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if gen.calls != 3 {
		t.Fatalf("calls = %d, want 3", gen.calls)
	}
	if rec == nil {
		t.Fatalf("expected recommendation after retries")
	}
}

func TestRecommendPrice_ExhaustedRetriesReturnLastError(t *testing.T) {
	gen := &flakyGenerator{failures: 10, failErr: ErrRateLimited}
	r := &Recommender{Gen: gen, Attempts: 3, BaseDelay: time.Millisecond}

	if _, err := r.RecommendPrice(context.Background(), testProduct("1000"), MarketData{}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if gen.calls != 3 {
		t.Fatalf("calls = %d, want 3", gen.calls)
	}
}

func TestRecommendPrice_QuotaExhaustionIsPermanent(t *testing.T) {
	gen := &flakyGenerator{failures: 10, failErr: ErrQuotaExceeded}
	r := &Recommender{Gen: gen, Attempts: 3, BaseDelay: time.Millisecond}

	if _, err := r.RecommendPrice(context.Background(), testProduct("1000"), MarketData{}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if gen.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on quota)", gen.calls)
	}
}

func TestRecommendPrice_MissingNumericFields(t *testing.T) {
	gen := &flakyGenerator{text: `{"reasoning": "trust me"}`}
	r := NewRecommender(gen)

	if _, err := r.RecommendPrice(context.Background(), testProduct("1000"), MarketData{}); !errors.Is(err, ErrUnparsableRecommendation) {
		t.Fatalf("err = %v, want ErrUnparsableRecommendation", err)
	}
}

func TestRecommendPrice_ConfidenceClampedAndDefaulted(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want float64
	}{
		{"above one", `{"recommendedPrice": 1, "priceChange": 0, "priceChangePercent": 0, "confidence": 4.2}`, 1},
		{"negative", `{"recommendedPrice": 1, "priceChange": 0, "priceChangePercent": 0, "confidence": -1}`, 0},
		{"missing", `{"recommendedPrice": 1, "priceChange": 0, "priceChangePercent": 0}`, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &flakyGenerator{text: tc.raw}
			rec, err := NewRecommender(gen).RecommendPrice(context.Background(), testProduct("1000"), MarketData{})
			if err != nil {
				t.Fatalf("recommend: %v", err)
			}
			if rec.Confidence != tc.want {
				t.Fatalf("confidence = %v, want %v", rec.Confidence, tc.want)
			}
		})
	}
}

func TestRecommendPrice_RejectsNilProduct(t *testing.T) {
	r := NewRecommender(&flakyGenerator{text: goodRecommendation})
	if _, err := r.RecommendPrice(context.Background(), nil, MarketData{}); err == nil {
		t.Fatalf("expected error for nil product")
	}
}
