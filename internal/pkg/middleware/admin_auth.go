package middleware

import (
	"strings"

	"github.com/finbridge-tw/finbridge/internal/pkg/env"
	"github.com/finbridge-tw/finbridge/internal/pkg/income"
	"github.com/gofiber/fiber/v2"
)

// AdminAuthMiddleware gates the back-office endpoints behind a static API
// token. The webhook receiver stays outside of it: sender authentication is
// business-logic level, per source.
func AdminAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := strings.TrimSpace(env.GetEnv("ADMIN_API_TOKEN", ""))
		if expected == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "admin_api_disabled",
				"message": "ADMIN_API_TOKEN is not configured",
			})
		}

		token := extractAPIKeyFromHeader(c)
		if !income.VerifyBearerToken(token, expected) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Invalid API key",
			})
		}

		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
