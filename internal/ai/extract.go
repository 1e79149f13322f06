// Package ai – defensive JSON extraction.
//
// Model output is prose that usually, but not always, embeds a JSON
// object: sometimes fenced, sometimes bare, sometimes surrounded by
// commentary. ExtractJSON is a pure, total function over that text — it
// walks an ordered ladder of candidate substrings, strict-parses each, and
// reports failure instead of ever panicking or guessing.
package ai

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// fencedRE matches a triple-backtick block, optionally labeled json, and
// captures its inner content.
var fencedRE = regexp.MustCompile("(?is)```(?:json)?\\n?(.*?)```")

// firstObjectRE finds the first non-greedy {...} span.
var firstObjectRE = regexp.MustCompile(`(?s)\{.*?\}`)

// ExtractJSON pulls the first parseable JSON object out of raw model text.
// Strategies, in order of preference:
//  1. the inner content of a fenced ```json block,
//  2. the first balanced-looking {...} substring,
//  3. the span from the first '{' to the last '}'.
//
// Each candidate is attempted with strict parsing; the first success wins.
// The second return value is false when no strategy yields valid JSON.
func ExtractJSON(raw string) (map[string]json.RawMessage, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}

	if m := fencedRE.FindStringSubmatch(s); m != nil {
		candidate := strings.TrimSpace(m[1])
		if obj, ok := tryParse(candidate); ok {
			return obj, true
		}
		// Keep hunting inside the fenced content.
		s = candidate
	}

	// Strip stray fence markers left at the edges.
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if m := firstObjectRE.FindString(s); m != "" {
		if obj, ok := tryParse(m); ok {
			return obj, true
		}
	}

	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first != -1 && last > first {
		if obj, ok := tryParse(s[first : last+1]); ok {
			return obj, true
		}
	}

	return nil, false
}

// tryParse strict-parses candidate as a JSON object.
func tryParse(candidate string) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// nonNumericRE strips everything but digits, dots, and a leading minus
// when coercing string-typed numbers like "$1,250.00".
var nonNumericRE = regexp.MustCompile(`[^0-9.\-]`)

// NormalizeDecimal coerces a raw JSON field into a decimal price. Numbers
// are accepted as-is; strings are stripped of currency symbols and
// separators before parsing. Anything unparsable (including null and
// absent fields) yields nil rather than an error — a missing counter-offer
// is a valid model answer.
func NormalizeDecimal(raw json.RawMessage) *decimal.Decimal {
	if len(raw) == 0 {
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		if d, derr := decimal.NewFromString(num.String()); derr == nil {
			return &d
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = nonNumericRE.ReplaceAllString(s, "")
		if s == "" || s == "-" {
			return nil
		}
		if d, derr := decimal.NewFromString(s); derr == nil {
			return &d
		}
	}
	return nil
}

// NormalizeString coerces a raw JSON field into a string, returning the
// fallback for null, absent, or non-string values.
func NormalizeString(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fallback
	}
	return s
}

// NormalizeFloat coerces a raw JSON field into a float64, accepting
// numeric strings, and reports success in the second return.
func NormalizeFloat(raw json.RawMessage) (float64, bool) {
	if d := NormalizeDecimal(raw); d != nil {
		f, _ := d.Float64()
		return f, true
	}
	return 0, false
}
