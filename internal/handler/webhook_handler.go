package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/shulepay/shulepay/internal/domain"
	"github.com/shulepay/shulepay/internal/service"
)

// WebhookHandler handles payment gateway callbacks
type WebhookHandler struct {
	payments *service.PaymentService
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(payments *service.PaymentService) *WebhookHandler {
	return &WebhookHandler{payments: payments}
}

// TumaPayWebhookRequest represents the webhook payload from TumaPay
type TumaPayWebhookRequest struct {
	ReferenceID string `json:"reference_id"` // Our gateway ref
	ProviderRef string `json:"provider_ref"` // TumaPay transaction ID
	Status      string `json:"status"`       // "success" or "failed"
	Reason      string `json:"reason"`       // Failure detail, empty on success
	Amount      int64  `json:"amount"`
	Signature   string `json:"signature"` // HMAC signature for verification
}

// TumaPayWebhook handles POST /v1/payments/webhook/tumapay
// This is a public endpoint, authenticated by the HMAC signature. Processing
// outcomes always acknowledge with 200 so the gateway stops redelivering;
// only a malformed or forged request is rejected.
func (h *WebhookHandler) TumaPayWebhook(c *fiber.Ctx) error {
	var req TumaPayWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("[Webhook] Failed to parse body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	log.Printf("[Webhook] Received callback: ref=%s, status=%s, amount=%d",
		req.ReferenceID, req.Status, req.Amount)

	if !h.payments.VerifySignature(req.ReferenceID, req.Status, req.Signature) {
		log.Printf("[Webhook] Signature verification failed for ref=%s", req.ReferenceID)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "invalid signature",
		})
	}

	err := h.payments.HandleCallback(c.UserContext(), req.ReferenceID, req.Status, req.ProviderRef, req.Reason)
	if err != nil {
		// Unknown refs and state conflicts are logged and ACKed; a retry
		// from the gateway cannot fix them.
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidState) || domain.IsValidation(err) {
			log.Printf("[Webhook] Unprocessable callback for ref=%s: %v", req.ReferenceID, err)
			return c.JSON(fiber.Map{
				"success": true,
				"message": "acknowledged",
			})
		}
		// Transient failure, let the gateway redeliver.
		log.Printf("[Webhook] Processing failed for ref=%s: %v", req.ReferenceID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "processing failed",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "processed",
	})
}
