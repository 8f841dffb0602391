package middleware

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// ServiceAuth authenticates service-to-service callers. Accepted
// credentials, all derived from the shared secret:
//   - Authorization: Bearer <secret>
//   - X-API-Key: <secret>
//   - Authorization: Bearer <HS256 JWT signed with the secret>
//
// Webhook and health endpoints are excluded; webhooks are authenticated
// by provider semantics (Pub/Sub push origin, Graph clientState).
func ServiceAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if strings.HasPrefix(path, "/v1/webhooks/") ||
			path == "/health" || path == "/ready" || path == "/health/stats" {
			return c.Next()
		}

		if secret == "" {
			logger.Warn("service auth disabled: no shared secret configured")
			return c.Next()
		}

		token := extractToken(c)
		if token == "" {
			return response401(c, "missing authorization")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
			c.Locals("caller", "shared-secret")
			return c.Next()
		}

		claims, err := validateServiceJWT(token, secret)
		if err != nil {
			logger.WithError(err).Warn("service JWT validation failed")
			return response401(c, "invalid token")
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Locals("caller", sub)
		}
		c.Locals("claims", claims)
		return c.Next()
	}
}

func extractToken(c *fiber.Ctx) string {
	if authHeader := c.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return c.Get("X-API-Key")
}

func validateServiceJWT(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}

	if exp, ok := claims["exp"].(float64); ok {
		if time.Now().Unix() > int64(exp) {
			return nil, fmt.Errorf("token expired")
		}
	}
	if iat, ok := claims["iat"].(float64); ok {
		// Allow 1 minute clock skew.
		if time.Unix(int64(iat), 0).After(time.Now().Add(time.Minute)) {
			return nil, fmt.Errorf("token issued in the future")
		}
	}

	return claims, nil
}

func response401(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
		Success:   false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error: ErrorDetail{
			Code:    apperr.CodeUnauthorized,
			Message: message,
		},
	})
}
