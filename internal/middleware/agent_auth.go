package middleware

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AgentClaims is what an agent console token carries.
type AgentClaims struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	jwt.RegisteredClaims
}

// AgentAuth guards the manual-handling endpoints. Tokens are HS256 signed
// with AGENT_JWT_SECRET; the verified agent identity lands in locals so
// handlers never trust request bodies for it. Setting AGENT_AUTH_DISABLED
// to "true" skips verification for local development, identity then comes
// from X-Agent-Id / X-Agent-Name headers.
func AgentAuth() fiber.Handler {
	secret := os.Getenv("AGENT_JWT_SECRET")
	disabled := os.Getenv("AGENT_AUTH_DISABLED") == "true"

	return func(c *fiber.Ctx) error {
		if disabled {
			c.Locals("agent_id", c.Get("X-Agent-Id"))
			c.Locals("agent_name", c.Get("X-Agent-Name"))
			return c.Next()
		}
		if secret == "" {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "agent auth is not configured",
			})
		}

		auth := c.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing bearer token",
			})
		}
		tokenString := strings.TrimPrefix(auth, "Bearer ")

		claims := &AgentClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.AgentID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
			})
		}

		c.Locals("agent_id", claims.AgentID)
		c.Locals("agent_name", claims.AgentName)
		return c.Next()
	}
}

// IssueAgentToken mints a console token for an agent, valid for the given
// duration. Used by the login endpoint and by tests.
func IssueAgentToken(agentID, agentName string, ttl time.Duration) (string, error) {
	secret := os.Getenv("AGENT_JWT_SECRET")
	if secret == "" {
		return "", fmt.Errorf("AGENT_JWT_SECRET is not set")
	}
	claims := AgentClaims{
		AgentID:   agentID,
		AgentName: agentName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			Subject:   agentID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// AgentFromLocals extracts the verified identity a handler should use.
func AgentFromLocals(c *fiber.Ctx) (id, name string) {
	if v, ok := c.Locals("agent_id").(string); ok {
		id = v
	}
	if v, ok := c.Locals("agent_name").(string); ok {
		name = v
	}
	return id, name
}
