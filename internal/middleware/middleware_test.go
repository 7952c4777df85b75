package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unimarket/campus-market/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testSecret = "test-secret"

func newAuthApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", AuthRequired(testSecret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals("user_id"), "role": c.Locals("role")})
	})
	return app
}

func TestAuthRequiredAcceptsBearerHeader(t *testing.T) {
	token, err := utils.GenerateToken("7", "student", testSecret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := newAuthApp().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthRequiredAcceptsCookie(t *testing.T) {
	token, err := utils.GenerateToken("7", "student", testSecret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})

	resp, err := newAuthApp().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthRequiredRejects(t *testing.T) {
	foreign, err := utils.GenerateToken("7", "student", "other-secret")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing"},
		{name: "malformed", header: "Token abc"},
		{name: "empty bearer", header: "Bearer "},
		{name: "wrong secret", header: "Bearer " + foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := newAuthApp().Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestUserRateLimiterIsPerUser(t *testing.T) {
	limiter := NewUserRateLimiter(60, 2, zap.NewNop())
	current := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	app := fiber.New()
	app.Post("/send", func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-User"))
		return c.Next()
	}, limiter.Handler(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/send", nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusNoContent, send("1"))
	assert.Equal(t, fiber.StatusNoContent, send("1"))
	assert.Equal(t, fiber.StatusTooManyRequests, send("1"))
	assert.Equal(t, fiber.StatusNoContent, send("2"), "other users keep their own bucket")

	current = current.Add(time.Second)
	assert.Equal(t, fiber.StatusNoContent, send("1"), "one token refills per second at 60/min")
}

func TestUserRateLimiterSweepsIdleBuckets(t *testing.T) {
	limiter := NewUserRateLimiter(60, 1, zap.NewNop())
	current := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	limiter.allow("user:1")
	current = current.Add(limiterIdleTTL + time.Second)
	limiter.allow("user:2")
	limiter.sweep()

	assert.Len(t, limiter.visitors, 1)
	assert.Contains(t, limiter.visitors, "user:2")
}

func TestRequestLoggerRecordsUser(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	app := fiber.New()
	app.Use(RequestLogger(zap.New(core)))
	app.Get("/ping", func(c *fiber.Ctx) error {
		c.Locals("user_id", "42")
		return c.SendStatus(fiber.StatusTeapot)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/ping", fields["path"])
	assert.EqualValues(t, fiber.StatusTeapot, fields["status"])
	assert.Equal(t, "42", fields["user_id"])
}
