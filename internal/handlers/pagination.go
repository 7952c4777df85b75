package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/unimarket/campus-market/internal/models"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 50
)

// pageParams reads ?page= and ?limit=. Bad values fall back to the defaults
// and limit is capped at maxPageLimit.
func pageParams(c *fiber.Ctx) (int, int) {
	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func buildPaginationMeta(page, limit, total int) models.PaginationMeta {
	meta := models.PaginationMeta{Page: page, Limit: limit, Total: total}
	if total > 0 && limit > 0 {
		meta.TotalPages = (total + limit - 1) / limit
	}
	return meta
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
