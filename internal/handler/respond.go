package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/shulepay/shulepay/internal/domain"
)

// callerFromCtx pulls the authenticated caller stored by the JWT middleware.
func callerFromCtx(c *fiber.Ctx) (domain.Caller, bool) {
	caller, ok := c.Locals("caller").(domain.Caller)
	if !ok || caller.UserID == "" {
		return domain.Caller{}, false
	}
	return caller, true
}

// respondError maps domain errors to HTTP statuses with the standard
// response envelope.
func respondError(c *fiber.Ctx, err error) error {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   ve.Error(),
		})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "not found",
		})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "forbidden",
		})
	case errors.Is(err, domain.ErrAlreadyPaid):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "invoice already paid",
		})
	case errors.Is(err, domain.ErrMissingProof):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "invoice has no proof to review",
		})
	case errors.Is(err, domain.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "operation not allowed in current state",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "internal server error",
		})
	}
}
