package ai

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON_FencedBlock(t *testing.T) {
	raw := "Here is my analysis:\n```json\n{\"response\": \"ok\", \"counterOffer\": 950}\n```\nLet me know."
	obj, ok := ExtractJSON(raw)
	if !ok {
		t.Fatalf("expected parse from fenced block")
	}
	if string(obj["counterOffer"]) != "950" {
		t.Fatalf("counterOffer = %s", obj["counterOffer"])
	}
}

func TestExtractJSON_UnlabeledFence(t *testing.T) {
	raw := "```\n{\"a\": 1}\n```"
	obj, ok := ExtractJSON(raw)
	if !ok || string(obj["a"]) != "1" {
		t.Fatalf("obj = %v ok = %v", obj, ok)
	}
}

func TestExtractJSON_BareObjectWithCommentary(t *testing.T) {
	raw := `Sure! {"response": "deal"} Hope that helps.`
	obj, ok := ExtractJSON(raw)
	if !ok {
		t.Fatalf("expected parse from bare object")
	}
	var s string
	if err := json.Unmarshal(obj["response"], &s); err != nil || s != "deal" {
		t.Fatalf("response = %s", obj["response"])
	}
}

func TestExtractJSON_NestedObjectFallsBackToOuterBraces(t *testing.T) {
	// The first non-greedy {...} span ends at the inner object's close,
	// which is not valid JSON on its own; the first-to-last-brace
	// strategy recovers the full object.
	raw := `{"outer": {"inner": 1}, "tail": 2}`
	obj, ok := ExtractJSON(raw)
	if !ok {
		t.Fatalf("expected parse via outer-brace strategy")
	}
	if string(obj["tail"]) != "2" {
		t.Fatalf("tail = %s", obj["tail"])
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	for _, raw := range []string{"", "   ", "plain prose with no braces", "{broken"} {
		if _, ok := ExtractJSON(raw); ok {
			t.Fatalf("%q: expected no parse", raw)
		}
	}
}

func TestNormalizeDecimal(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string // "" means nil
	}{
		{"number", `950`, "950"},
		{"float", `949.99`, "949.99"},
		{"string", `"925"`, "925"},
		{"currency string", `"$1,250.00"`, "1250.00"},
		{"null", `null`, ""},
		{"absent", ``, ""},
		{"prose", `"call me"`, ""},
		{"bool", `true`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeDecimal(json.RawMessage(tc.raw))
			if tc.want == "" {
				if got != nil {
					t.Fatalf("got %s, want nil", got)
				}
				return
			}
			if got == nil || got.String() != tc.want {
				t.Fatalf("got %v, want %s", got, tc.want)
			}
		})
	}
}

func TestNormalizeString(t *testing.T) {
	if got := NormalizeString(json.RawMessage(`"hello"`), "fb"); got != "hello" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeString(json.RawMessage(`42`), "fb"); got != "fb" {
		t.Fatalf("non-string: got %q, want fallback", got)
	}
	if got := NormalizeString(nil, "fb"); got != "fb" {
		t.Fatalf("absent: got %q, want fallback", got)
	}
}

func TestNormalizeFloat(t *testing.T) {
	if f, ok := NormalizeFloat(json.RawMessage(`0.85`)); !ok || f != 0.85 {
		t.Fatalf("got %v %v", f, ok)
	}
	if f, ok := NormalizeFloat(json.RawMessage(`"0.7"`)); !ok || f != 0.7 {
		t.Fatalf("string number: got %v %v", f, ok)
	}
	if _, ok := NormalizeFloat(json.RawMessage(`"high"`)); ok {
		t.Fatalf("prose should not parse")
	}
}
