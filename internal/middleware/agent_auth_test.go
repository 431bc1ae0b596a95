package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedApp() *fiber.App {
	app := fiber.New()
	app.Get("/protected", AgentAuth(), func(c *fiber.Ctx) error {
		id, name := AgentFromLocals(c)
		return c.JSON(fiber.Map{"agent_id": id, "agent_name": name})
	})
	return app
}

func TestAgentAuthRejectsMissingToken(t *testing.T) {
	t.Setenv("AGENT_JWT_SECRET", "test-secret")
	t.Setenv("AGENT_AUTH_DISABLED", "")
	app := protectedApp()

	req := httptest.NewRequest("GET", "/protected", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAgentAuthRejectsGarbageToken(t *testing.T) {
	t.Setenv("AGENT_JWT_SECRET", "test-secret")
	t.Setenv("AGENT_AUTH_DISABLED", "")
	app := protectedApp()

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAgentAuthAcceptsIssuedToken(t *testing.T) {
	t.Setenv("AGENT_JWT_SECRET", "test-secret")
	t.Setenv("AGENT_AUTH_DISABLED", "")
	app := protectedApp()

	token, err := IssueAgentToken("a1", "Alice", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAgentAuthRejectsExpiredToken(t *testing.T) {
	t.Setenv("AGENT_JWT_SECRET", "test-secret")
	t.Setenv("AGENT_AUTH_DISABLED", "")
	app := protectedApp()

	token, err := IssueAgentToken("a1", "Alice", -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAgentAuthDisabledUsesHeaders(t *testing.T) {
	t.Setenv("AGENT_JWT_SECRET", "")
	t.Setenv("AGENT_AUTH_DISABLED", "true")
	app := protectedApp()

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-Agent-Id", "dev-agent")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
