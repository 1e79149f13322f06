// Order HTTP handlers.
//
// Orders are created only by settlement (quote acceptance or negotiation
// acceptance); this file exposes the read and fulfillment surface:
//   - GET  /orders              (list, role-filtered, paginated)
//   - GET  /orders/{id}         (fetch)
//   - PUT  /orders/{id}/status  (advance fulfillment / cancel)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tradeloom/marketplace-backend/internal/domain"
	"github.com/tradeloom/marketplace-backend/internal/repo"
)

// UpdateOrderStatusRequest is the JSON payload for a status transition.
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required" example:"confirmed"`
}

// ListOrdersResponse wraps a page of orders.
type ListOrdersResponse struct {
	Orders     []domain.Order `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

// ListOrders godoc
// @ID          listOrders
// @Summary     List orders (paginated)
// @Description Returns the caller's orders as buyer or vendor, newest first.
// @Tags        Orders
// @Produce     json
//
// @Param       X-User-ID    header  string  true   "User ID"
// @Param       X-User-Role  header  string  false  "buyer or vendor"
// @Param       status       query   string  false  "Filter by status"
// @Param       page         query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size    query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListOrdersResponse
// @Router      /orders [get]
func (h *Handlers) ListOrders(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	f := repo.OrderFilter{Status: c.Query("status")}
	if userRole(c) == "vendor" {
		f.VendorID = uid
	} else {
		f.BuyerID = uid
	}

	items, err := h.orderSvc.List(c.Request.Context(), f)
	if err != nil {
		failService(c, err)
		return
	}
	page, pageSize := clampPagination(c)
	pageItems, pg := pageSlice(items, page, pageSize)
	ok(c, http.StatusOK, ListOrdersResponse{Orders: pageItems, Pagination: pg})
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Fetch one order
// @Tags        Orders
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       id         path    string  true  "Order ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse  "Order not found"
// @Router      /orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order id must be a UUID")
		return
	}
	o, err := h.orderSvc.Get(c.Request.Context(), id, uid)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// UpdateOrderStatus godoc
// @ID          updateOrderStatus
// @Summary     Advance an order's status
// @Description Walks the order along pending → confirmed → processing → shipped → delivered. Either party may cancel a non-terminal order; only the vendor advances fulfillment.
// @Tags        Orders
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       id         path    string  true  "Order ID (UUID)"  format(uuid)
// @Param       body       body    handlers.UpdateOrderStatusRequest  true  "Target status"
//
// @Success     200  {object}  domain.Order
// @Failure     409  {object}  handlers.ErrorResponse  "Transition not allowed"
// @Router      /orders/{id}/status [put]
func (h *Handlers) UpdateOrderStatus(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order id must be a UUID")
		return
	}
	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	o, err := h.orderSvc.UpdateStatus(c.Request.Context(), id, uid, strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}
