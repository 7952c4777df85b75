package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/unimarket/campus-market/pkg/utils"
)

// AccessTokenCookie carries the JWT for browser page loads where an
// Authorization header cannot be set.
const AccessTokenCookie = "access_token"

func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, errMessage := extractToken(c)
		if errMessage != "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": errMessage,
			})
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("role", claims.Role)

		return c.Next()
	}
}

// extractToken prefers the Authorization header and falls back to the cookie.
func extractToken(c *fiber.Ctx) (string, string) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", "Invalid authorization header format"
		}
		return parts[1], ""
	}

	if cookie := c.Cookies(AccessTokenCookie); cookie != "" {
		return cookie, ""
	}

	return "", "Missing authorization header"
}
