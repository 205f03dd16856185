package handler

import (
	"io"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/shulepay/shulepay/internal/service"
)

// InvoiceHandler handles invoice and payment-proof API endpoints
type InvoiceHandler struct {
	billing *service.BillingService
	proofs  *service.ProofService
}

// NewInvoiceHandler creates a new InvoiceHandler
func NewInvoiceHandler(billing *service.BillingService, proofs *service.ProofService) *InvoiceHandler {
	return &InvoiceHandler{billing: billing, proofs: proofs}
}

// ListMine handles GET /v1/me/invoices
func (h *InvoiceHandler) ListMine(c *fiber.Ctx) error {
	caller, ok := callerFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	invoices, err := h.billing.ListInvoices(c.UserContext(), caller)
	if err != nil {
		log.Printf("[Invoice] list failed for owner %s: %v", caller.UserID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    invoices,
	})
}

// Get handles GET /v1/me/invoices/:id
func (h *InvoiceHandler) Get(c *fiber.Ctx) error {
	caller, ok := callerFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	inv, err := h.billing.GetInvoice(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    inv,
	})
}

// SubmitProof handles POST /v1/me/invoices/:id/proof
// Expects multipart form: file (the artifact), transaction_ref, notes.
func (h *InvoiceHandler) SubmitProof(c *fiber.Ctx) error {
	caller, ok := callerFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "file is required",
		})
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "failed to read file",
		})
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "failed to read file",
		})
	}

	contentType := fileHeader.Header.Get("Content-Type")
	inv, err := h.proofs.SubmitProof(
		c.UserContext(),
		caller,
		c.Params("id"),
		data,
		fileHeader.Filename,
		contentType,
		c.FormValue("transaction_ref"),
		c.FormValue("notes"),
	)
	if err != nil {
		log.Printf("[Invoice] proof submission failed for invoice %s: %v", c.Params("id"), err)
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    inv,
	})
}

// ReviewProofRequest represents the review verdict payload
type ReviewProofRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// ReviewProof handles POST /v1/admin/invoices/:id/review
func (h *InvoiceHandler) ReviewProof(c *fiber.Ctx) error {
	caller, ok := callerFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	var req ReviewProofRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	inv, err := h.billing.ReviewProof(c.UserContext(), caller, c.Params("id"), req.Approved, req.Reason)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    inv,
	})
}

// Cancel handles POST /v1/admin/invoices/:id/cancel
func (h *InvoiceHandler) Cancel(c *fiber.Ctx) error {
	caller, ok := callerFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	if err := h.billing.CancelInvoice(c.UserContext(), caller, c.Params("id")); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "invoice cancelled",
	})
}
