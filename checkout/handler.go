package checkout

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

// NewHandler wires the checkout routes. svc may be nil when the gateway is
// not configured; routes then answer 503.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/checkout/session", h.createSession)
	r.POST("/checkout/validate-discount", h.validateDiscount)
}

func (h *Handler) createSession(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": gin.H{"code": "GATEWAY_UNCONFIGURED", "message": "payment gateway not configured"}})
		return
	}
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil || req.SubmissionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": string(ErrInvalidSubmissionID), "message": "submission_id is required"}})
		return
	}
	result, err := h.svc.CreateSession(c.Request.Context(), req)
	if err != nil {
		code := CodeOf(err)
		var ce *Error
		msg := "failed to create checkout session, please try again"
		if errors.As(err, &ce) && ce.Code != ErrGateway {
			msg = ce.Message
		}
		log.Printf("[checkout][session] submission=%s code=%s err=%v", req.SubmissionID, code, err)
		c.JSON(HTTPStatus(code), gin.H{"success": false, "error": gin.H{"code": string(code), "message": msg}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// validateDiscount lets the UI pre-check a code and show the computed
// reduction against the base package before checkout.
func (h *Handler) validateDiscount(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": gin.H{"code": "GATEWAY_UNCONFIGURED", "message": "payment gateway not configured"}})
		return
	}
	var body struct {
		DiscountCode string `json:"discount_code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.DiscountCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": "INVALID_REQUEST", "message": "discount_code is required"}})
		return
	}
	coupon, err := h.svc.ValidateDiscount(c.Request.Context(), body.DiscountCode)
	if err != nil {
		log.Printf("[checkout][discount] code=%s err=%v", body.DiscountCode, err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": gin.H{"code": string(ErrGateway), "message": "failed to validate discount code"}})
		return
	}
	if coupon == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": string(ErrInvalidDiscountCode), "message": "discount code '" + body.DiscountCode + "' is not valid or has expired"}})
		return
	}
	kind := "percentage"
	var value any = coupon.PercentOff
	if coupon.AmountOff > 0 {
		kind = "fixed"
		value = coupon.AmountOff
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"code":   coupon.ID,
		"amount": DiscountAmount(coupon, BaseAmount),
		"type":   kind,
		"value":  value,
	}})
}
