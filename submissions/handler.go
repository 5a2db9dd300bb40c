package submissions

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/payments/status/:id", h.paymentStatus)
}

// paymentStatus reports the payment state of a submission for UI polling.
func (h *Handler) paymentStatus(c *gin.Context) {
	id := c.Param("id")
	sub, err := h.repo.GetSubmission(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "submission not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"id":                   sub.ID,
		"status":               sub.Status,
		"payment_amount":       sub.PaymentAmount,
		"currency":             sub.Currency,
		"payment_completed_at": sub.PaymentCompletedAt,
	}})
}
