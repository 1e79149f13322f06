// Handler wiring and shared request plumbing.
//
// Handlers are transport-thin: they validate input, resolve the calling
// principal, call application services, and translate results (including
// settlement sentinels) into HTTP responses. All business rules live in
// the services package.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tradeloom/marketplace-backend/internal/ai"
	"github.com/tradeloom/marketplace-backend/internal/domain"
	"github.com/tradeloom/marketplace-backend/internal/repo"
	"github.com/tradeloom/marketplace-backend/internal/services"
	"github.com/tradeloom/marketplace-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// QuoteService defines the RFQ and quote lifecycle operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type QuoteService interface {
	// CreateRFQ opens a new request for quote owned by buyerID.
	CreateRFQ(ctx context.Context, buyerID string, in services.RFQInput) (*domain.RFQ, error)
	// GetRFQ fetches one RFQ.
	GetRFQ(ctx context.Context, id string) (*domain.RFQ, error)
	// ListRFQs returns RFQs matching the filter.
	ListRFQs(ctx context.Context, f repo.RFQFilter) ([]domain.RFQ, error)
	// CloseRFQ moves an unsettled RFQ to closed or rejected.
	CloseRFQ(ctx context.Context, rfqID, buyerID, status string) (*domain.RFQ, error)
	// SubmitQuote records (or updates) vendorID's quote on an RFQ.
	SubmitQuote(ctx context.Context, rfqID, vendorID string, in services.QuoteInput) (*domain.Quote, error)
	// ListQuotes returns an RFQ's quotes.
	ListQuotes(ctx context.Context, rfqID, requesterID, role string) ([]domain.Quote, error)
	// AcceptQuote settles an RFQ on the given quote.
	AcceptQuote(ctx context.Context, quoteID, requesterID string) (*services.QuoteSettlement, error)
}

// NegotiationService defines the negotiation lifecycle operations consumed
// by HTTP handlers (the websocket layer uses the concrete service).
type NegotiationService interface {
	Create(ctx context.Context, productID, buyerID string, quantity int, initialOffer *decimal.Decimal) (*domain.Negotiation, error)
	Get(ctx context.Context, id string) (*domain.Negotiation, error)
	List(ctx context.Context, f repo.NegotiationFilter) ([]domain.Negotiation, error)
	PostMessage(ctx context.Context, negotiationID, senderID, message string, offer *decimal.Decimal) (*domain.Negotiation, *domain.NegotiationMessage, error)
	AINegotiate(ctx context.Context, negotiationID, requesterID, buyerMessage string) (*services.AIRound, error)
	Accept(ctx context.Context, negotiationID, requesterID, closingMessage string) (*services.Settlement, error)
	Close(ctx context.Context, negotiationID, requesterID string) (*domain.Negotiation, error)
}

// OrderService defines order retrieval and fulfillment operations.
type OrderService interface {
	Get(ctx context.Context, orderID, requesterID string) (*domain.Order, error)
	List(ctx context.Context, f repo.OrderFilter) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, orderID, requesterID, status string) (*domain.Order, error)
}

// PriceAdvisor defines the AI pricing-advice operation.
type PriceAdvisor interface {
	RecommendPrice(ctx context.Context, product *domain.Product, market ai.MarketData) (*ai.PriceRecommendation, error)
}

// ProductReader fetches catalog records for the AI endpoints.
type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for RFQs, quotes, negotiations,
// orders, and AI pricing advice. It depends on abstract service interfaces
// to keep transport concerns separate from business logic.
type Handlers struct {
	quoteSvc QuoteService
	negSvc   NegotiationService
	orderSvc OrderService
	advisor  PriceAdvisor
	products ProductReader
}

// New constructs a Handlers instance bound to the given services. advisor
// may be nil when no AI provider is configured; the AI endpoints then
// return 503.
func New(quoteSvc QuoteService, negSvc NegotiationService, orderSvc OrderService, advisor PriceAdvisor, products ProductReader) *Handlers {
	return &Handlers{
		quoteSvc: quoteSvc,
		negSvc:   negSvc,
		orderSvc: orderSvc,
		advisor:  advisor,
		products: products,
	}
}

//
// Principal resolution
//

// userID extracts the authenticated user id from Gin context (set by
// upstream middleware). If absent, it falls back to the "X-User-ID" header.
// It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return ""
}

// userRole extracts the caller's marketplace role ("buyer" or "vendor")
// from the "X-User-Role" header, defaulting to "buyer".
func userRole(c *gin.Context) string {
	if c != nil && c.Request != nil {
		if h := strings.ToLower(strings.TrimSpace(c.GetHeader("X-User-Role"))); h == "vendor" {
			return "vendor"
		}
	}
	return "buyer"
}

// requireUser resolves the caller or fails the request with 401.
func requireUser(c *gin.Context) (string, bool) {
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header is required")
		return "", false
	}
	return uid, true
}

//
// Shared response plumbing
//

// failService translates service sentinels into the error envelope. Any
// unrecognized error is reported as a 500.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrRFQNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "RFQ not found")
	case errors.Is(err, services.ErrQuoteNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "quote not found")
	case errors.Is(err, services.ErrNegotiationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "negotiation not found")
	case errors.Is(err, services.ErrProductNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "product not found")
	case errors.Is(err, services.ErrOrderNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not allowed for this user")
	case errors.Is(err, services.ErrRFQNotOpen):
		fail(c, http.StatusConflict, ErrCodeRFQNotOpen, "RFQ is no longer accepting quotes")
	case errors.Is(err, services.ErrInvalidPrice):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "price must be a positive amount")
	case errors.Is(err, services.ErrInvalidQuantity):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "quantity must be a positive integer")
	case errors.Is(err, services.ErrInvalidStatus):
		fail(c, http.StatusConflict, ErrCodeConflict, "status transition not allowed")
	case errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message or offer is required")
	case errors.Is(err, services.ErrAIDisabled):
		fail(c, http.StatusServiceUnavailable, ErrCodeAIUnavailable, "AI provider is not configured")
	case errors.Is(err, ai.ErrQuotaExceeded):
		fail(c, http.StatusServiceUnavailable, ErrCodeAIUnavailable, "AI provider quota exhausted")
	case errors.Is(err, ai.ErrRateLimited):
		fail(c, http.StatusServiceUnavailable, ErrCodeAIUnavailable, "AI provider is rate limiting requests")
	case errors.Is(err, ai.ErrUnparsableRecommendation):
		fail(c, http.StatusBadGateway, ErrCodeAIUnavailable, "AI provider returned an unusable response")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// Pagination
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Count      int  `json:"count"`
	HasNext    bool `json:"has_next"`
	TotalShown int  `json:"total_shown"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// pageSlice applies in-memory pagination to a result set and reports the
// page plus metadata. Listings here are small and already role-filtered at
// the query level.
func pageSlice[T any](items []T, page, pageSize int) ([]T, Pagination) {
	start := (page - 1) * pageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	out := items[start:end]
	return out, Pagination{
		Page:       page,
		PageSize:   pageSize,
		Count:      len(items),
		HasNext:    end < len(items),
		TotalShown: len(out),
	}
}
