package handler

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/shulepay/shulepay/internal/domain"
	"github.com/shulepay/shulepay/internal/service"
)

// BillingHandler handles the pricing table, subscriber registration and the
// manual billing-run trigger.
type BillingHandler struct {
	billing   *service.BillingService
	scheduler *service.BillingScheduler
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(billing *service.BillingService, scheduler *service.BillingScheduler) *BillingHandler {
	return &BillingHandler{billing: billing, scheduler: scheduler}
}

// Tiers handles GET /v1/billing/tiers
// Public endpoint, the pricing table is not sensitive.
func (h *BillingHandler) Tiers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    h.billing.Tiers(),
	})
}

// RegisterSubscriberRequest represents the registration payload
type RegisterSubscriberRequest struct {
	Name         string `json:"name"`
	Contact      string `json:"contact"`
	SchoolID     string `json:"school_id"`
	Tier         string `json:"tier"`
	AcademicYear string `json:"academic_year"`
}

// RegisterSubscriber handles POST /v1/admin/subscribers
func (h *BillingHandler) RegisterSubscriber(c *fiber.Ctx) error {
	caller, ok := callerFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}
	if !caller.HasRole(domain.RoleAdmin) && !caller.HasRole(domain.RoleHeadmaster) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "forbidden",
		})
	}

	var req RegisterSubscriberRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	// Registrations are scoped to the caller's own school unless none is
	// supplied in the token.
	schoolID := caller.SchoolID
	if schoolID == "" {
		schoolID = req.SchoolID
	}

	sub, inv, err := h.billing.RegisterSubscriber(
		c.UserContext(),
		req.Name,
		req.Contact,
		schoolID,
		domain.RegistrationTier(req.Tier),
		req.AcademicYear,
	)
	if err != nil {
		log.Printf("[Billing] registration failed: %v", err)
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"subscriber": sub,
			"invoice":    inv,
		},
	})
}

// RunBilling handles POST /v1/admin/billing/run
// Manual trigger for the daily recurring-billing pass, mainly for
// operations and recovery after an outage.
func (h *BillingHandler) RunBilling(c *fiber.Ctx) error {
	caller, ok := callerFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}
	if !caller.HasRole(domain.RoleAdmin) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "forbidden",
		})
	}

	report, err := h.scheduler.RunOnce(c.UserContext(), time.Now().UTC())
	if err != nil {
		log.Printf("[Billing] manual run failed: %v", err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    report,
	})
}
