// Negotiation HTTP handlers.
//
// This file exposes REST endpoints for the negotiation flow:
//   - POST   /negotiations                    (open a session)
//   - GET    /negotiations                    (list, role-filtered, paginated)
//   - GET    /negotiations/{id}               (fetch with transcript)
//   - POST   /negotiations/{id}/messages      (participant message / offer)
//   - POST   /negotiations/{id}/ai-response   (AI counter-offer round)
//   - POST   /negotiations/{id}/accept        (settle at current price)
//   - POST   /negotiations/{id}/close         (walk away, no order)
//
// The same service methods back the websocket commands, so HTTP and
// realtime clients observe identical semantics.
package handlers

import (
	"errors"
	"net/http"
	"strings"

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

// CreateNegotiationRequest is the JSON payload for opening a negotiation.
type CreateNegotiationRequest struct {
	ProductID    string           `json:"product_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Quantity     int              `json:"quantity" example:"10"`
	InitialOffer *decimal.Decimal `json:"initial_offer,omitempty" example:"900.00"`
}

// PostNegotiationMessageRequest is the JSON payload for a participant
// message. At least one of message or offer must be present.
type PostNegotiationMessageRequest struct {
	Message string           `json:"message" example:"Can you do 920 for this volume?"`
	Offer   *decimal.Decimal `json:"offer,omitempty" example:"920.00"`
}

// AINegotiateRequest is the JSON payload for requesting an AI round.
type AINegotiateRequest struct {
	Message string `json:"message" binding:"required" example:"Would you take 850?"`
}

// AcceptNegotiationRequest is the optional JSON payload when accepting.
type AcceptNegotiationRequest struct {
	Message string `json:"message" example:"Deal, let's proceed."`
}

// PostNegotiationMessageResponse pairs the appended entry with the
// updated session.
type PostNegotiationMessageResponse struct {
	Negotiation *domain.Negotiation        `json:"negotiation"`
	Message     *domain.NegotiationMessage `json:"message"`
}

// ListNegotiationsResponse wraps a page of negotiations.
type ListNegotiationsResponse struct {
	Negotiations []domain.Negotiation `json:"negotiations"`
	Pagination   Pagination           `json:"pagination"`
}

//
// Handlers
//

// CreateNegotiation godoc
// @ID          createNegotiation
// @Summary     Open a negotiation
// @Description Starts a price negotiation on a product. The current price begins at the buyer's initial offer, or the list price when none is given.
// @Tags        Negotiations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       body       body    handlers.CreateNegotiationRequest  true  "Negotiation payload"
//
// @Success     201  {object}  domain.Negotiation
// @Failure     404  {object}  handlers.ErrorResponse  "Product not found"
// @Router      /negotiations [post]
func (h *Handlers) CreateNegotiation(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	var req CreateNegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if _, err := uuid.Parse(req.ProductID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "product_id must be a UUID")
		return
	}

	n, err := h.negSvc.Create(c.Request.Context(), req.ProductID, uid, req.Quantity, req.InitialOffer)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, n)
}

// ListNegotiations godoc
// @ID          listNegotiations
// @Summary     List negotiations (paginated)
// @Description Returns the caller's negotiations, most recently active first.
// @Tags        Negotiations
// @Produce     json
//
// @Param       X-User-ID    header  string  true   "User ID"
// @Param       X-User-Role  header  string  false  "buyer or vendor"
// @Param       active       query   bool    false  "Filter on active sessions"
// @Param       page         query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size    query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListNegotiationsResponse
// @Router      /negotiations [get]
func (h *Handlers) ListNegotiations(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	f := repo.NegotiationFilter{}
	if userRole(c) == "vendor" {
		f.VendorID = uid
	} else {
		f.BuyerID = uid
	}
	if raw := c.Query("active"); raw != "" {
		active := raw == "true" || raw == "1"
		f.Active = &active
	}

	items, err := h.negSvc.List(c.Request.Context(), f)
	if err != nil {
		failService(c, err)
		return
	}
	page, pageSize := clampPagination(c)
	pageItems, pg := pageSlice(items, page, pageSize)
	ok(c, http.StatusOK, ListNegotiationsResponse{Negotiations: pageItems, Pagination: pg})
}

// GetNegotiation godoc
// @ID          getNegotiation
// @Summary     Fetch one negotiation with its transcript
// @Tags        Negotiations
// @Produce     json
//
// @Param       id  path  string  true  "Negotiation ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Negotiation
// @Failure     404  {object}  handlers.ErrorResponse  "Negotiation not found"
// @Router      /negotiations/{id} [get]
func (h *Handlers) GetNegotiation(c *gin.Context) {
	id, okID := negotiationID(c)
	if !okID {
		return
	}
	n, err := h.negSvc.Get(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, n)
}

// PostNegotiationMessage godoc
// @ID          postNegotiationMessage
// @Summary     Post a message or offer
// @Description Appends a participant message to an active negotiation. An offer moves the session's current price.
// @Tags        Negotiations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       id         path    string  true  "Negotiation ID (UUID)"  format(uuid)
// @Param       body       body    handlers.PostNegotiationMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.PostNegotiationMessageResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Negotiation closed"
// @Router      /negotiations/{id}/messages [post]
func (h *Handlers) PostNegotiationMessage(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id, okID := negotiationID(c)
	if !okID {
		return
	}
	var req PostNegotiationMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	n, msg, err := h.negSvc.PostMessage(c.Request.Context(), id, uid, strings.TrimSpace(req.Message), req.Offer)
	if err != nil {
		if errors.Is(err, services.ErrNegotiationClosed) {
			fail(c, http.StatusConflict, ErrCodeNegotiationClosed, "negotiation is no longer active")
			return
		}
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, PostNegotiationMessageResponse{Negotiation: n, Message: msg})
}

// AINegotiate godoc
// @ID          aiNegotiate
// @Summary     Request an AI counter-offer
// @Description Runs one AI negotiation round: the reply is appended to the transcript and its counter-offer (if any) becomes the current price. An unusable model answer degrades to a polite fallback reply rather than an error.
// @Tags        Negotiations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       id         path    string  true  "Negotiation ID (UUID)"  format(uuid)
// @Param       body       body    handlers.AINegotiateRequest  true  "Buyer message for the model"
//
// @Success     200  {object}  services.AIRound
// @Failure     503  {object}  handlers.ErrorResponse  "AI provider unavailable"
// @Router      /negotiations/{id}/ai-response [post]
func (h *Handlers) AINegotiate(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id, okID := negotiationID(c)
	if !okID {
		return
	}
	var req AINegotiateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message is required")
		return
	}

	round, err := h.negSvc.AINegotiate(c.Request.Context(), id, uid, strings.TrimSpace(req.Message))
	if err != nil {
		if errors.Is(err, services.ErrNegotiationClosed) {
			fail(c, http.StatusConflict, ErrCodeNegotiationClosed, "negotiation is no longer active")
			return
		}
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, round)
}

// AcceptNegotiation godoc
// @ID          acceptNegotiation
// @Summary     Accept the current offer
// @Description Settles the negotiation at its current price and creates exactly one order. Repeating the call returns the already-produced order with 200.
// @Tags        Negotiations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       id         path    string  true  "Negotiation ID (UUID)"  format(uuid)
// @Param       body       body    handlers.AcceptNegotiationRequest  false  "Optional closing message"
//
// @Success     201  {object}  services.Settlement
// @Success     200  {object}  services.Settlement     "Already settled"
// @Failure     409  {object}  handlers.ErrorResponse  "Closed without settlement"
// @Router      /negotiations/{id}/accept [post]
func (h *Handlers) AcceptNegotiation(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id, okID := negotiationID(c)
	if !okID {
		return
	}
	var req AcceptNegotiationRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	settlement, err := h.negSvc.Accept(c.Request.Context(), id, uid, strings.TrimSpace(req.Message))
	if errors.Is(err, services.ErrNegotiationClosed) {
		if settlement != nil {
			// Idempotent repeat: same order.
			ok(c, http.StatusOK, settlement)
			return
		}
		fail(c, http.StatusConflict, ErrCodeNegotiationClosed, "negotiation was closed without a deal")
		return
	}
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, settlement)
}

// CloseNegotiation godoc
// @ID          closeNegotiation
// @Summary     Close a negotiation without a deal
// @Tags        Negotiations
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       id         path    string  true  "Negotiation ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Negotiation
// @Failure     409  {object}  handlers.ErrorResponse  "Already terminal"
// @Router      /negotiations/{id}/close [post]
func (h *Handlers) CloseNegotiation(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id, okID := negotiationID(c)
	if !okID {
		return
	}
	n, err := h.negSvc.Close(c.Request.Context(), id, uid)
	if err != nil {
		if errors.Is(err, services.ErrNegotiationClosed) {
			fail(c, http.StatusConflict, ErrCodeNegotiationClosed, "negotiation is already terminal")
			return
		}
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, n)
}

// negotiationID validates the :id path parameter or fails the request.
func negotiationID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "negotiation id must be a UUID")
		return "", false
	}
	return id, true
}
