package controllers

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHandler(t *testing.T, target string, headers map[string]string, handler fiber.Handler) {
	t.Helper()
	app := fiber.New()
	app.Get("/test/:id?", handler)

	req := httptest.NewRequest("GET", target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestParsePagination(t *testing.T) {
	cases := []struct {
		query                  string
		page, pageSize, offset int
	}{
		{"", 1, 20, 0},
		{"?page=3&page_size=10", 3, 10, 20},
		{"?page=0&page_size=-5", 1, 20, 0},
		{"?page_size=500", 1, 100, 0},
		{"?page=abc", 1, 20, 0},
	}
	for _, tc := range cases {
		runHandler(t, "/test"+tc.query, nil, func(c *fiber.Ctx) error {
			page, pageSize, offset := parsePagination(c)
			assert.Equal(t, tc.page, page, "query %q", tc.query)
			assert.Equal(t, tc.pageSize, pageSize, "query %q", tc.query)
			assert.Equal(t, tc.offset, offset, "query %q", tc.query)
			return c.SendStatus(fiber.StatusOK)
		})
	}
}

func TestParseIDParam(t *testing.T) {
	runHandler(t, "/test/42", nil, func(c *fiber.Ctx) error {
		id, ok := parseIDParam(c, "id")
		assert.True(t, ok)
		assert.Equal(t, uint(42), id)
		return c.SendStatus(fiber.StatusOK)
	})

	for _, bad := range []string{"abc", "0", "-1"} {
		runHandler(t, "/test/"+bad, nil, func(c *fiber.Ctx) error {
			_, ok := parseIDParam(c, "id")
			assert.False(t, ok, "param %q", bad)
			return c.SendStatus(fiber.StatusOK)
		})
	}
}

func TestBearerToken(t *testing.T) {
	runHandler(t, "/test", map[string]string{"Authorization": "Bearer tok_abc"}, func(c *fiber.Ctx) error {
		assert.Equal(t, "tok_abc", bearerToken(c))
		return c.SendStatus(fiber.StatusOK)
	})

	runHandler(t, "/test", map[string]string{"Authorization": "Basic dXNlcg=="}, func(c *fiber.Ctx) error {
		assert.Empty(t, bearerToken(c))
		return c.SendStatus(fiber.StatusOK)
	})

	runHandler(t, "/test", nil, func(c *fiber.Ctx) error {
		assert.Empty(t, bearerToken(c))
		return c.SendStatus(fiber.StatusOK)
	})
}

func TestMaskedSecretInput(t *testing.T) {
	// A round-tripped GET response must never replace the stored credential.
	assert.True(t, maskedSecretInput("****abcd"))
	assert.True(t, maskedSecretInput("****"))

	assert.False(t, maskedSecretInput("tok_secret"))
	assert.False(t, maskedSecretInput("**short"))
	assert.False(t, maskedSecretInput(""))
}

func TestFirstHeaderValue(t *testing.T) {
	headers := map[string]string{"X-Hub-Signature-256": "sha256=abc"}
	runHandler(t, "/test", headers, func(c *fiber.Ctx) error {
		assert.Equal(t, "sha256=abc", firstHeaderValue(c, "X-Signature", "X-Hub-Signature-256"))
		assert.Empty(t, firstHeaderValue(c, "X-Missing"))
		return c.SendStatus(fiber.StatusOK)
	})
}
