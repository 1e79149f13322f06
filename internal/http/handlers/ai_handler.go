// AI pricing-advice HTTP handler.
//
//   - POST /ai/price-recommendation  (vendor asks for pricing advice)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeloom/marketplace-backend/internal/ai"
)

// PriceRecommendationRequest is the JSON payload for pricing advice.
// Market context fields are optional.
type PriceRecommendationRequest struct {
	ProductID   string           `json:"product_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	AvgPrice    *decimal.Decimal `json:"avg_price,omitempty" example:"27.50"`
	DemandTrend string           `json:"demand_trend,omitempty" example:"rising"`
	Competitors []string         `json:"competitors,omitempty"`
}

// RecommendPrice godoc
// @ID          recommendPrice
// @Summary     AI pricing advice for a product
// @Description Asks the model for a structured price recommendation. Only the product's vendor may request advice. Transient provider failures are retried before reporting 503.
// @Tags        AI
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"
// @Param       body       body    handlers.PriceRecommendationRequest  true  "Product and market context"
//
// @Success     200  {object}  ai.PriceRecommendation
// @Failure     502  {object}  handlers.ErrorResponse  "Unusable model output"
// @Failure     503  {object}  handlers.ErrorResponse  "AI provider unavailable"
// @Router      /ai/price-recommendation [post]
func (h *Handlers) RecommendPrice(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	if h.advisor == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeAIUnavailable, "AI provider is not configured")
		return
	}
	var req PriceRecommendationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if _, err := uuid.Parse(req.ProductID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "product_id must be a UUID")
		return
	}

	product, err := h.products.GetProduct(c.Request.Context(), req.ProductID)
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "product not found")
		return
	}
	if product.VendorID != uid {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "only the product's vendor may request pricing advice")
		return
	}

	rec, err := h.advisor.RecommendPrice(c.Request.Context(), product, ai.MarketData{
		AvgPrice:    req.AvgPrice,
		DemandTrend: req.DemandTrend,
		Competitors: req.Competitors,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}
