// RFQ and quote HTTP handlers.
//
// This file exposes REST endpoints for the request-for-quote flow:
//   - POST   /rfqs                  (create)
//   - GET    /rfqs                  (list, role-filtered, paginated)
//   - GET    /rfqs/{id}             (fetch)
//   - PUT    /rfqs/{id}/status      (close / reject)
//   - POST   /rfqs/{id}/quotes      (vendor submits or updates a quote)
//   - GET    /rfqs/{id}/quotes      (list quotes)
//   - POST   /quotes/{id}/accept    (buyer settles the RFQ)
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeloom/marketplace-backend/internal/domain"
	"github.com/tradeloom/marketplace-backend/internal/repo"
	"github.com/tradeloom/marketplace-backend/internal/services"
)

//
// DTOs
//

// CreateRFQRequest is the JSON payload for opening an RFQ.
type CreateRFQRequest struct {
	ProductID   *string          `json:"product_id,omitempty" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Title       string           `json:"title" binding:"required,min=1,max=255" example:"500 units of industrial fasteners"`
	Description string           `json:"description" example:"M8 stainless, delivery to Rotterdam"`
	Quantity    int              `json:"quantity" binding:"required" example:"500"`
	TargetPrice *decimal.Decimal `json:"target_price,omitempty" example:"2.40"`
	Deadline    *time.Time       `json:"deadline,omitempty"`
}

// UpdateRFQStatusRequest is the JSON payload for closing an RFQ.
type UpdateRFQStatusRequest struct {
	Status string `json:"status" binding:"required" example:"closed"`
}

// SubmitQuoteRequest is the JSON payload for a vendor quote.
type SubmitQuoteRequest struct {
	Price        decimal.Decimal `json:"price" binding:"required" example:"2.15"`
	Quantity     int             `json:"quantity" binding:"required" example:"500"`
	DeliveryTime string          `json:"delivery_time" example:"2 weeks"`
	ValidUntil   *time.Time      `json:"valid_until,omitempty"`
	Notes        string          `json:"notes" example:"bulk discount applied"`
}

// ListRFQsResponse wraps a page of RFQs and pagination information.
type ListRFQsResponse struct {
	RFQs       []domain.RFQ `json:"rfqs"`
	Pagination Pagination   `json:"pagination"`
}

// ListQuotesResponse wraps an RFQ's quotes.
type ListQuotesResponse struct {
	Quotes []domain.Quote `json:"quotes"`
}

//
// Handlers
//

// CreateRFQ godoc
// @ID          createRFQ
// @Summary     Open a request for quote
// @Description Creates an RFQ owned by the calling buyer. It starts in status "open".
// @Tags        RFQs
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       body       body    handlers.CreateRFQRequest  true  "RFQ payload"
//
// @Success     201  {object}  domain.RFQ
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing user"
// @Router      /rfqs [post]
func (h *Handlers) CreateRFQ(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	var req CreateRFQRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	rfq, err := h.quoteSvc.CreateRFQ(c.Request.Context(), uid, services.RFQInput{
		ProductID:   req.ProductID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Quantity:    req.Quantity,
		TargetPrice: req.TargetPrice,
		Deadline:    req.Deadline,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, rfq)
}

// ListRFQs godoc
// @ID          listRFQs
// @Summary     List RFQs (paginated)
// @Description Buyers see their own RFQs; vendors see every open or quoted RFQ.
// @Tags        RFQs
// @Produce     json
//
// @Param       X-User-ID    header  string  true   "User ID"
// @Param       X-User-Role  header  string  false  "buyer or vendor"
// @Param       status       query   string  false  "Filter by status"
// @Param       page         query   int     false  "Page number"      minimum(1) default(1)
// @Param       page_size    query   int     false  "Items per page"   minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListRFQsResponse
// @Router      /rfqs [get]
func (h *Handlers) ListRFQs(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	f := repo.RFQFilter{Status: c.Query("status")}
	if userRole(c) == "buyer" {
		f.BuyerID = uid
	}

	items, err := h.quoteSvc.ListRFQs(c.Request.Context(), f)
	if err != nil {
		failService(c, err)
		return
	}
	page, pageSize := clampPagination(c)
	pageItems, pg := pageSlice(items, page, pageSize)
	ok(c, http.StatusOK, ListRFQsResponse{RFQs: pageItems, Pagination: pg})
}

// GetRFQ godoc
// @ID          getRFQ
// @Summary     Fetch one RFQ
// @Tags        RFQs
// @Produce     json
//
// @Param       id  path  string  true  "RFQ ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.RFQ
// @Failure     404  {object}  handlers.ErrorResponse  "RFQ not found"
// @Router      /rfqs/{id} [get]
func (h *Handlers) GetRFQ(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rfq id must be a UUID")
		return
	}
	rfq, err := h.quoteSvc.GetRFQ(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, rfq)
}

// UpdateRFQStatus godoc
// @ID          updateRFQStatus
// @Summary     Close or reject an RFQ
// @Description Manually transitions an unsettled RFQ to "closed" or "rejected". Only the owning buyer may do this.
// @Tags        RFQs
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       id         path    string  true  "RFQ ID (UUID)"  format(uuid)
// @Param       body       body    handlers.UpdateRFQStatusRequest  true  "Target status"
//
// @Success     200  {object}  domain.RFQ
// @Failure     403  {object}  handlers.ErrorResponse  "Not the owner"
// @Failure     409  {object}  handlers.ErrorResponse  "Transition not allowed"
// @Router      /rfqs/{id}/status [put]
func (h *Handlers) UpdateRFQStatus(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rfq id must be a UUID")
		return
	}
	var req UpdateRFQStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	rfq, err := h.quoteSvc.CloseRFQ(c.Request.Context(), id, uid, strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		if errors.Is(err, services.ErrInvalidStatus) {
			fail(c, http.StatusConflict, ErrCodeConflict, "RFQ can only be closed or rejected while unsettled")
			return
		}
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, rfq)
}

// SubmitQuote godoc
// @ID          submitQuote
// @Summary     Submit or update a quote
// @Description Records the calling vendor's quote on an RFQ. Resubmitting replaces the vendor's previous terms.
// @Tags        Quotes
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       id         path    string  true  "RFQ ID (UUID)"  format(uuid)
// @Param       body       body    handlers.SubmitQuoteRequest  true  "Quote terms"
//
// @Success     201  {object}  domain.Quote
// @Failure     409  {object}  handlers.ErrorResponse  "RFQ not open"
// @Router      /rfqs/{id}/quotes [post]
func (h *Handlers) SubmitQuote(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rfq id must be a UUID")
		return
	}
	var req SubmitQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	q, err := h.quoteSvc.SubmitQuote(c.Request.Context(), id, uid, services.QuoteInput{
		Price:        req.Price,
		Quantity:     req.Quantity,
		DeliveryTime: req.DeliveryTime,
		ValidUntil:   req.ValidUntil,
		Notes:        req.Notes,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, q)
}

// ListQuotes godoc
// @ID          listQuotes
// @Summary     List an RFQ's quotes
// @Tags        Quotes
// @Produce     json
//
// @Param       X-User-ID    header  string  true   "User ID"
// @Param       X-User-Role  header  string  false  "buyer or vendor"
// @Param       id           path    string  true   "RFQ ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.ListQuotesResponse
// @Router      /rfqs/{id}/quotes [get]
func (h *Handlers) ListQuotes(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rfq id must be a UUID")
		return
	}
	quotes, err := h.quoteSvc.ListQuotes(c.Request.Context(), id, uid, userRole(c))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListQuotesResponse{Quotes: quotes})
}

// AcceptQuote godoc
// @ID          acceptQuote
// @Summary     Accept a quote
// @Description Settles the RFQ on this quote: the quote wins, every sibling is rejected, and one order is created.
//              Repeating the call returns the already-produced settlement with 200.
// @Tags        Quotes
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       id         path    string  true  "Quote ID (UUID)"  format(uuid)
//
// @Success     201  {object}  services.QuoteSettlement
// @Success     200  {object}  services.QuoteSettlement  "Already settled on this quote"
// @Failure     409  {object}  handlers.ErrorResponse    "RFQ not open"
// @Router      /quotes/{id}/accept [post]
func (h *Handlers) AcceptQuote(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "quote id must be a UUID")
		return
	}

	settlement, err := h.quoteSvc.AcceptQuote(c.Request.Context(), id, uid)
	if errors.Is(err, services.ErrQuoteAlreadyAccepted) {
		// Idempotent repeat: same winner, same order.
		ok(c, http.StatusOK, settlement)
		return
	}
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, settlement)
}
