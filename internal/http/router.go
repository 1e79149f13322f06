// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting, and mounts the websocket
// endpoint next to the versioned REST API.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tradeloom/marketplace-backend/internal/ai"
	"github.com/tradeloom/marketplace-backend/internal/config"
	"github.com/tradeloom/marketplace-backend/internal/domain"
	"github.com/tradeloom/marketplace-backend/internal/http/handlers"
	"github.com/tradeloom/marketplace-backend/internal/http/middleware"
	"github.com/tradeloom/marketplace-backend/internal/realtime"
	"github.com/tradeloom/marketplace-backend/internal/repo"
	"github.com/tradeloom/marketplace-backend/internal/services"
)

// productReaderShim adapts the repository free function to the
// handlers.ProductReader interface. This keeps handlers decoupled from the
// concrete repo package while reusing existing functions.
type productReaderShim struct {
	db *gorm.DB
}

// GetProduct proxies repo.GetProduct.
func (p productReaderShim) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return repo.GetProduct(ctx, p.db, id)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), the calling
// principal, rate limiting, CORS and security headers, health and metrics
// endpoints, the websocket endpoint, and then mounts the versioned public
// API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Principal: resolve caller identity from gateway headers
//  4. RedactingLogger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Rate limiter (per user/IP)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, gen ai.TextGenerator, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Caller identity from gateway headers
	r.Use(middleware.Principal())

	// 4) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderUserRole},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderUserRole},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/AI provider
	hub := realtime.NewHub()

	var negotiator services.PriceNegotiator
	var advisor handlers.PriceAdvisor
	if gen != nil {
		negotiator = ai.NewNegotiator(gen)
		advisor = ai.NewRecommender(gen)
	}

	quoteSvc := services.NewQuoteService(db)
	negSvc := services.NewNegotiationService(db, negotiator, hub)
	orderSvc := services.NewOrderService(db)

	h := handlers.New(quoteSvc, negSvc, orderSvc, advisor, productReaderShim{db: db})

	// Websocket endpoint: joins negotiation groups and relays commands
	// through the same service methods as the REST API.
	ws := realtime.NewServer(hub, negSvc, originChecker(cfg.CORS.AllowedOrigins))
	r.GET("/ws", func(c *gin.Context) {
		uid := c.GetString("userID")
		if uid == "" {
			handlers.Fail(c, http.StatusUnauthorized, handlers.ErrCodeUnauthorized, "X-User-ID header is required")
			return
		}
		ws.Handle(c.Writer, c.Request, uid)
	})

	// Public API. Responses are gzip-compressed on this group only; the
	// websocket endpoint must stay uncompressed for the upgrade to work.
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		// RFQs
		api.POST("/rfqs", h.CreateRFQ)
		api.GET("/rfqs", h.ListRFQs)
		api.GET("/rfqs/:id", h.GetRFQ)
		api.PUT("/rfqs/:id/status", h.UpdateRFQStatus)

		// Quotes
		api.POST("/rfqs/:id/quotes", h.SubmitQuote)
		api.GET("/rfqs/:id/quotes", h.ListQuotes)
		api.POST("/quotes/:id/accept", h.AcceptQuote)

		// Negotiations
		api.POST("/negotiations", h.CreateNegotiation)
		api.GET("/negotiations", h.ListNegotiations)
		api.GET("/negotiations/:id", h.GetNegotiation)
		api.POST("/negotiations/:id/messages", h.PostNegotiationMessage)
		api.POST("/negotiations/:id/ai-response", h.AINegotiate)
		api.POST("/negotiations/:id/accept", h.AcceptNegotiation)
		api.POST("/negotiations/:id/close", h.CloseNegotiation)

		// Orders
		api.GET("/orders", h.ListOrders)
		api.GET("/orders/:id", h.GetOrder)
		api.PUT("/orders/:id/status", h.UpdateOrderStatus)

		// AI
		api.POST("/ai/price-recommendation", h.RecommendPrice)
	}
}

// originChecker builds the websocket handshake origin check from the CORS
// allowlist. An empty allowlist accepts any origin, matching the REST
// posture.
func originChecker(allowedOrigins []string) func(*http.Request) bool {
	if len(allowedOrigins) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
