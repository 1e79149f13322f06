package config

import (
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so defaults are observable
// regardless of the host environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "READ_TIMEOUT", "READ_HEADER_TIMEOUT", "WRITE_TIMEOUT",
		"IDLE_TIMEOUT", "MAX_HEADER_BYTES", "GIN_MODE",
		"LOG_LEVEL", "LOG_PRETTY", "API_BASE_PATH", "DB_PATH",
		"AI_API_ENDPOINT", "AI_MODEL", "AI_API_KEY",
		"RATE_RPS", "RATE_BURST",
		"CORS_ALLOWED_ORIGINS", "ENABLE_HSTS", "HSTS_MAX_AGE",
		"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SERVICE_NAME",
		"OTEL_TRACES_SAMPLER_ARG",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q", cfg.GinMode)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Errorf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.DBPath != "marketplace.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.AI.Endpoint != "https://generativelanguage.googleapis.com" {
		t.Errorf("AI.Endpoint = %q", cfg.AI.Endpoint)
	}
	if cfg.AI.Model != "gemini-2.0-flash" {
		t.Errorf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.APIKey != "" {
		t.Errorf("AI.APIKey = %q, want empty (AI disabled)", cfg.AI.APIKey)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Errorf("rate = %v/%v", cfg.RateRPS, cfg.RateBurst)
	}
	if cfg.ReadTimeout != 15*time.Second || cfg.WriteTimeout != 20*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.ReadTimeout, cfg.WriteTimeout)
	}
	if cfg.OTEL.ServiceName != "marketplace-backend" || cfg.OTEL.SampleRatio != 1.0 {
		t.Errorf("otel = %+v", cfg.OTEL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("GIN_MODE", "test")
	t.Setenv("API_BASE_PATH", "api/v2/")
	t.Setenv("AI_API_ENDPOINT", "http://localhost:8089///")
	t.Setenv("AI_API_KEY", "k")
	t.Setenv("RATE_RPS", "2.5")
	t.Setenv("RATE_BURST", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("READ_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want lowercased", cfg.LogLevel)
	}
	if cfg.APIBasePath != "/api/v2" {
		t.Errorf("APIBasePath = %q, want normalized", cfg.APIBasePath)
	}
	if cfg.AI.Endpoint != "http://localhost:8089" {
		t.Errorf("AI.Endpoint = %q, want trailing slashes stripped", cfg.AI.Endpoint)
	}
	if cfg.RateRPS != 2.5 || cfg.RateBurst != 3 {
		t.Errorf("rate = %v/%v", cfg.RateRPS, cfg.RateBurst)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout)
	}
}

func TestLoad_Normalization(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "warning")
	t.Setenv("GIN_MODE", "bogus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warning aliased to warn", cfg.LogLevel)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q, want unknown mode coerced to release", cfg.GinMode)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"bad log level", "LOG_LEVEL", "loud", "LOG_LEVEL"},
		{"rate burst too small", "RATE_BURST", "0", "RATE_BURST"},
		{"negative rps", "RATE_RPS", "-1", "RATE_RPS"},
		{"sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.val)

			_, err := Load()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":          "/",
		"/":         "/",
		"api":       "/api",
		"/api/":     "/api",
		"/api/v1//": "/api/v1",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("X_BOOL", "yes")
	if !getbool("X_BOOL", false) {
		t.Errorf("yes should parse true")
	}
	t.Setenv("X_BOOL", "off")
	if getbool("X_BOOL", true) {
		t.Errorf("off should parse false")
	}
	t.Setenv("X_BOOL", "maybe")
	if !getbool("X_BOOL", true) {
		t.Errorf("unparsable should fall back to default")
	}
}
