package controllers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// parsePagination reads page/page_size query params with sane bounds.
func parsePagination(c *fiber.Ctx) (page, pageSize, offset int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.Query("page_size", strconv.Itoa(defaultPageSize)))
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize, (page - 1) * pageSize
}

// parseIDParam reads a positive numeric :id route param.
func parseIDParam(c *fiber.Ctx, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Params(name))
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// bearerToken extracts the credential from an Authorization: Bearer header.
func bearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// maskedSecretInput reports whether a submitted credential is the masked
// representation a read returned. Clients that round-trip a GET response into
// an update would otherwise overwrite the stored secret with the mask.
func maskedSecretInput(v string) bool {
	return strings.HasPrefix(v, "****")
}

// firstHeaderValue returns the first non-empty header among keys.
func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}

// flattenHeaders collapses the request headers into a single-value map for
// storage as raw evidence alongside the payload.
func flattenHeaders(c *fiber.Ctx) map[string]string {
	out := map[string]string{}
	for key, values := range c.GetReqHeaders() {
		if len(values) == 0 {
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}
