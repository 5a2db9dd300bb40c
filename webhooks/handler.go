package webhooks

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

type Handler struct {
	rec           *Reconciler
	webhookSecret string
}

// NewHandler wires the webhook endpoint. When secret is empty the signature
// check is skipped (local development against the CLI forwarder).
func NewHandler(rec *Reconciler, secret string) *Handler {
	return &Handler{rec: rec, webhookSecret: secret}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/webhooks/stripe", h.receive)
}

func (h *Handler) receive(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	var stripeEvent stripe.Event
	if h.webhookSecret != "" {
		sig := c.GetHeader("Stripe-Signature")
		stripeEvent, err = webhook.ConstructEvent(payload, sig, h.webhookSecret)
		if err != nil {
			log.Printf("[webhook][verify] signature verification failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
	} else if err := json.Unmarshal(payload, &stripeEvent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ev, ok, err := ParseStripeEvent(stripeEvent)
	if err != nil {
		log.Printf("[webhook][parse] event=%s err=%v", stripeEvent.ID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "undecodable event payload"})
		return
	}
	if !ok {
		// Outside the handled set; acknowledge so the gateway stops retrying.
		log.Printf("[webhook][parse] event=%s type=%s ignored", stripeEvent.ID, stripeEvent.Type)
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	// A failed event must not crash handling of subsequent ones: report the
	// failure and let the gateway retry delivery.
	if err := h.rec.Process(c.Request.Context(), ev); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
