package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/shulepay/shulepay/internal/domain"
	"github.com/shulepay/shulepay/internal/service"
)

// PaymentHandler handles gateway payment API endpoints
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// InitiateRequest represents the request body for starting a payment
type InitiateRequest struct {
	Kind       string `json:"kind"` // book_purchase, event_registration, membership_fee
	Amount     int64  `json:"amount"`
	Channel    string `json:"channel"` // MTN, AIRTEL, CARD
	PayerName  string `json:"payer_name"`
	PayerEmail string `json:"payer_email"`
	PayerPhone string `json:"payer_phone"`
	BookID     string `json:"book_id"`
	EventID    string `json:"event_id"`
	InvoiceID  string `json:"invoice_id"`
}

// Initiate handles POST /v1/me/payments
func (h *PaymentHandler) Initiate(c *fiber.Ctx) error {
	caller, ok := callerFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	var req InitiateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	validChannels := map[string]bool{"MTN": true, "AIRTEL": true, "CARD": true}
	if !validChannels[req.Channel] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid channel, must be MTN, AIRTEL, or CARD",
		})
	}

	resp, err := h.payments.Initiate(c.UserContext(), service.InitiateRequest{
		Caller:     caller,
		Kind:       req.Kind,
		Amount:     req.Amount,
		Channel:    req.Channel,
		PayerName:  req.PayerName,
		PayerEmail: req.PayerEmail,
		PayerPhone: req.PayerPhone,
		BookID:     req.BookID,
		EventID:    req.EventID,
		InvoiceID:  req.InvoiceID,
	})
	if err != nil {
		var ge *domain.GatewayError
		if errors.As(err, &ge) {
			// Provider detail goes to the log, never to the client.
			log.Printf("[Payment] gateway rejected initiation: %v", ge)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"success": false,
				"error":   "payment provider unavailable",
			})
		}
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    resp,
	})
}

// GetTransaction handles GET /v1/me/payments/:id
func (h *PaymentHandler) GetTransaction(c *fiber.Ctx) error {
	caller, ok := callerFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	txn, err := h.payments.GetTransaction(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    txn,
	})
}
