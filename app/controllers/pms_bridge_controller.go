package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/finbridge-tw/finbridge/internal/pkg/cache"
	"github.com/finbridge-tw/finbridge/internal/pkg/database"
	"github.com/finbridge-tw/finbridge/internal/pkg/pmsbridge"
	"github.com/gofiber/fiber/v2"
)

const pmsLastSyncCacheKey = "pmsbridge:last_sync"

func newBridgeService() *pmsbridge.Service {
	return pmsbridge.NewServiceFromDB(database.GetDB(), pmsbridge.GetPMSDB())
}

// monthParams reads start_month/end_month, defaulting both to the current
// month.
func monthParams(c *fiber.Ctx) (string, string) {
	current := time.Now().Format("2006-01")
	start := strings.TrimSpace(c.Query("start_month", current))
	end := strings.TrimSpace(c.Query("end_month", start))
	return start, end
}

// bridgeErrorResponse maps bridge errors onto the taxonomy: 503 only for the
// external dependency (absent or unreachable), 400 for bad month bounds, and
// a generic 500 for primary-store failures.
func bridgeErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, pmsbridge.ErrNotConfigured):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "pms_unavailable",
			"message": "PMS integration is not configured",
		})
	case errors.Is(err, pmsbridge.ErrPMSUnavailable):
		log.Printf("pms bridge: external store read failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "pms_unavailable",
			"message": "PMS store is unreachable",
		})
	case errors.Is(err, pmsbridge.ErrInvalidMonthRange):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	default:
		log.Printf("pms bridge operation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
}

// HandlePMSPreview runs the read/aggregate step without writes so an
// operator can eyeball the numbers first.
func HandlePMSPreview(c *fiber.Ctx) error {
	start, end := monthParams(c)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	rows, err := newBridgeService().Preview(ctx, start, end)
	if err != nil {
		return bridgeErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"data": rows, "start_month": start, "end_month": end})
}

type pmsSyncRequest struct {
	StartMonth string `json:"start_month"`
	EndMonth   string `json:"end_month"`
}

// HandlePMSSync upserts synthetic webhook rows for the requested months.
// The operation is an explicit operator action, safe to re-run at any point
// in a month.
func HandlePMSSync(c *fiber.Ctx) error {
	var req pmsSyncRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	current := time.Now().Format("2006-01")
	if req.StartMonth == "" {
		req.StartMonth = current
	}
	if req.EndMonth == "" {
		req.EndMonth = req.StartMonth
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := newBridgeService().Sync(ctx, req.StartMonth, req.EndMonth)
	if err != nil {
		return bridgeErrorResponse(c, err)
	}

	status := fiber.Map{
		"ran_at":      time.Now().Format(time.RFC3339),
		"start_month": req.StartMonth,
		"end_month":   req.EndMonth,
		"synced":      result.Synced,
		"updated":     result.Updated,
		"skipped":     result.Skipped,
	}
	if encoded, err := json.Marshal(status); err == nil {
		if err := cache.Set(pmsLastSyncCacheKey, string(encoded), 0); err != nil {
			log.Printf("failed to store pms sync status: %v", err)
		}
	}
	invalidatePendingCount()

	return c.JSON(result)
}

// HandlePMSStatus reports whether the integration is configured, the bridge
// source counters, and the last sync run. A pure read: the bridge source row
// is only ever created by Sync.
func HandlePMSStatus(c *fiber.Ctx) error {
	svc := newBridgeService()
	response := fiber.Map{"configured": svc.Configured()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if source, err := svc.LookupBridgeSource(ctx); err == nil {
		response["source_present"] = true
		response["source_id"] = source.ID
		response["total_received"] = source.TotalReceived
		response["last_received_at"] = source.LastReceivedAt
	} else {
		response["source_present"] = false
	}

	if raw, err := cache.Get(pmsLastSyncCacheKey); err == nil && raw != "" {
		var lastSync map[string]any
		if err := json.Unmarshal([]byte(raw), &lastSync); err == nil {
			response["last_sync"] = lastSync
		}
	}
	return c.JSON(response)
}

// HandlePMSCompare cross-checks PMS revenue against the ledger per month.
func HandlePMSCompare(c *fiber.Ctx) error {
	start, end := monthParams(c)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	rows, err := newBridgeService().Compare(ctx, start, end)
	if err != nil {
		return bridgeErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"data": rows, "start_month": start, "end_month": end})
}
