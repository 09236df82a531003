package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"staysync/internal/pricing"
	"staysync/internal/services"
	"staysync/internal/transport/httpdto"
)

type PricingHandler struct {
	service *services.PricingService
}

func NewPricingHandler(service *services.PricingService) *PricingHandler {
	return &PricingHandler{service: service}
}

func (h *PricingHandler) UpsertPolicy(c *gin.Context) {
	unitID, err := uuid.Parse(c.Param("unit_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid unit id", "INVALID_REQUEST"))
		return
	}
	var req httpdto.UpsertPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	policy := &pricing.Policy{
		UnitID:               unitID,
		BasePrice:            req.BasePrice,
		WeekendMarkupPercent: req.WeekendMarkupPercent,
		Discount16Percent:    req.Discount16Percent,
		Discount21Percent:    req.Discount21Percent,
		Discount23Percent:    req.Discount23Percent,
		WeekendDays:          req.WeekendDays,
		Timezone:             req.Timezone,
		Currency:             req.Currency,
	}
	if err := h.service.UpsertPolicy(c.Request.Context(), policy); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromPolicy(policy)))
}

func (h *PricingHandler) GetPolicy(c *gin.Context) {
	unitID, err := uuid.Parse(c.Param("unit_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid unit id", "INVALID_REQUEST"))
		return
	}
	policy, err := h.service.GetPolicy(c.Request.Context(), unitID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromPolicy(policy)))
}

// Quote prices one night as seen from a given instant, defaulting to
// now. The hour of the instant decides the same-day discount.
func (h *PricingHandler) Quote(c *gin.Context) {
	unitID, err := uuid.Parse(c.Param("unit_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid unit id", "INVALID_REQUEST"))
		return
	}
	at := time.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("at must be RFC3339", "INVALID_REQUEST"))
			return
		}
		at = parsed
	}

	quote, err := h.service.QuoteAt(c.Request.Context(), unitID, at)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromQuote(quote)))
}

func (h *PricingHandler) Calendar(c *gin.Context) {
	unitID, err := uuid.Parse(c.Param("unit_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid unit id", "INVALID_REQUEST"))
		return
	}
	from := time.Now().Truncate(24 * time.Hour)
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("from must be YYYY-MM-DD", "INVALID_REQUEST"))
			return
		}
		from = parsed
	}
	days, _ := strconv.Atoi(c.Query("days"))

	quotes, err := h.service.Calendar(c.Request.Context(), unitID, from, days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CalendarResponse{
		UnitID: unitID,
		From:   from.Format("2006-01-02"),
		Days:   len(quotes),
		Quotes: httpdto.FromQuoteSlice(quotes),
	}))
}

func (h *PricingHandler) QuoteStay(c *gin.Context) {
	unitID, err := uuid.Parse(c.Param("unit_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid unit id", "INVALID_REQUEST"))
		return
	}
	checkIn, err := time.Parse("2006-01-02", c.Query("check_in"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("check_in must be YYYY-MM-DD", "INVALID_REQUEST"))
		return
	}
	checkOut, err := time.Parse("2006-01-02", c.Query("check_out"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("check_out must be YYYY-MM-DD", "INVALID_REQUEST"))
		return
	}

	total, nights, err := h.service.QuoteStay(c.Request.Context(), unitID, checkIn, checkOut)
	if err != nil {
		respondError(c, err)
		return
	}
	currency := pricing.DefaultCurrency
	if len(nights) > 0 {
		currency = nights[0].Currency
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.StayQuoteResponse{
		UnitID:   unitID,
		CheckIn:  checkIn.Format("2006-01-02"),
		CheckOut: checkOut.Format("2006-01-02"),
		Total:    total,
		Currency: currency,
		Nights:   httpdto.FromQuoteSlice(nights),
	}))
}
