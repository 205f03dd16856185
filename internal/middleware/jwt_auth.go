package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/shulepay/shulepay/internal/domain"
)

// Context keys for storing caller info
const (
	CallerKey   = "caller"
	UserIDKey   = "userID"
	RolesKey    = "roles"
	SchoolIDKey = "school_id"
)

// VerifyShulePayToken validates the platform JWT and stores the caller in
// the request context. Token issuance lives in the identity service; this
// middleware only verifies and unpacks.
func VerifyShulePayToken(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "missing authorization token",
			})
		}

		// Extract token (format: "Bearer <token>")
		tokenString := authHeader
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			tokenString = authHeader[7:]
		}

		token, err := jwt.ParseWithClaims(tokenString, &domain.ShulePayClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "invalid signing method")
			}
			return []byte(jwtSecret), nil
		})
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "invalid or expired token",
			})
		}

		claims, ok := token.Claims.(*domain.ShulePayClaims)
		if !ok || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "invalid token claims",
			})
		}

		c.Locals(CallerKey, domain.Caller{
			UserID:   claims.UserID,
			Roles:    claims.Roles,
			SchoolID: claims.SchoolID,
		})
		c.Locals(UserIDKey, claims.UserID)
		c.Locals(RolesKey, claims.Roles)
		c.Locals(SchoolIDKey, claims.SchoolID)

		return c.Next()
	}
}

// AuthorizeRole checks if the caller has at least one of the required roles
func AuthorizeRole(allowedRoles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, ok := c.Locals(CallerKey).(domain.Caller)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "no caller found in token",
			})
		}

		for _, role := range allowedRoles {
			if caller.HasRole(role) {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success":        false,
			"error":          "insufficient permissions",
			"required_roles": allowedRoles,
		})
	}
}
