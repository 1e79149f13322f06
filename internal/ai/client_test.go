package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "test-model", "test-key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewClient_RequiresModelAndKey(t *testing.T) {
	if _, err := NewClient("", "", "key"); err == nil {
		t.Fatalf("expected error for missing model")
	}
	if _, err := NewClient("", "model", ""); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestGenerateContent_Success(t *testing.T) {
	var gotPath, gotKey string
	var gotReq generateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello there"}]}}]}`))
	})

	text, err := c.GenerateContent(context.Background(), "say hi", 0.8)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("text = %q", text)
	}
	if gotPath != "/v1beta/models/test-model:generateContent" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotReq.GenerationConfig.Temperature != 0.8 || gotReq.GenerationConfig.MaxOutputTokens != 500 {
		t.Fatalf("generation config = %+v", gotReq.GenerationConfig)
	}
	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Parts[0].Text != "say hi" {
		t.Fatalf("contents = %+v", gotReq.Contents)
	}
}

func TestGenerateContent_RateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"status":"UNAVAILABLE","message":"slow down"}}`))
	})

	if _, err := c.GenerateContent(context.Background(), "p", 0.7); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestGenerateContent_QuotaExceeded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"free_tier quota exceeded"}}`))
	})

	if _, err := c.GenerateContent(context.Background(), "p", 0.7); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestGenerateContent_EmptyCandidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	})

	if _, err := c.GenerateContent(context.Background(), "p", 0.7); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestGenerateContent_BlankText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"   "}]}}]}`))
	})

	if _, err := c.GenerateContent(context.Background(), "p", 0.7); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestGenerateContent_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := c.GenerateContent(context.Background(), "p", 0.7)
	if err == nil {
		t.Fatalf("expected error for 500")
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("500 misclassified: %v", err)
	}
}
