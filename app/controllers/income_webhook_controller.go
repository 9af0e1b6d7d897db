package controllers

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/finbridge-tw/finbridge/app/models"
	"github.com/finbridge-tw/finbridge/app/repository"
	"github.com/finbridge-tw/finbridge/internal/pkg/cache"
	"github.com/finbridge-tw/finbridge/internal/pkg/database"
	"github.com/finbridge-tw/finbridge/internal/pkg/income"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const pendingCountCacheKey = "income:webhooks:pending_count"
const pendingCountCacheTTL = 30 * time.Second

// newIncomeService builds the per-request service; a variable so tests can
// inject a fake-backed service.
var newIncomeService = func() *income.Service {
	return income.NewServiceFromDB(database.GetDB())
}

// HandleReceiveWebhook is the public ingestion endpoint. Unknown source keys
// get the same generic acknowledgment as real ones so the endpoint cannot be
// used to enumerate valid keys; only authentication failures surface a 401.
func HandleReceiveWebhook(c *fiber.Ctx) error {
	sourceKey := c.Params("sourceKey")
	svc := newIncomeService()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	source, err := svc.GetActiveSource(ctx, sourceKey)
	if err != nil {
		if errors.Is(err, income.ErrNotFound) {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
		}
		log.Printf("income webhook: source lookup failed for key %q: %v", sourceKey, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	meta := income.RequestMeta{
		SignatureHeader: firstHeaderValue(c, "X-Signature", "X-Hub-Signature-256"),
		TokenHeader:     bearerToken(c),
		RequestIP:       c.IP(),
		RequestHeaders:  flattenHeaders(c),
	}

	result := svc.ReceiveWebhook(ctx, source, rawBody, meta)
	if result.Err != nil {
		if errors.Is(result.Err, income.ErrAuthFailed) {
			// Deliberately generic: never reveal which check failed.
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication failed"})
		}
		log.Printf("income webhook: ingestion failed for source %d: %v", source.ID, result.Err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	if !result.IsDuplicate {
		invalidatePendingCount()
	}
	response := fiber.Map{"received": true, "id": result.WebhookID}
	if result.IsDuplicate {
		response["duplicate"] = true
	}
	return c.Status(fiber.StatusOK).JSON(response)
}

// HandleListWebhooks returns a paginated admin listing, filterable by
// source_id and status.
func HandleListWebhooks(c *fiber.Ctx) error {
	page, pageSize, offset := parsePagination(c)

	filter := repository.WebhookListFilter{Offset: offset, Limit: pageSize}
	if raw := c.Query("source_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "source_id must be numeric"})
		}
		sid := uint(id)
		filter.SourceID = &sid
	}
	if status := c.Query("status"); status != "" {
		switch status {
		case models.WEBHOOK_STATUS_PENDING, models.WEBHOOK_STATUS_CONFIRMED, models.WEBHOOK_STATUS_REJECTED:
			filter.Status = status
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "status must be pending, confirmed or rejected"})
		}
	}

	repo := repository.GetGlobalFactory().GetIncomeWebhookRepository()
	webhooks, total, err := repo.List(filter)
	if err != nil {
		log.Printf("income webhook listing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	return c.JSON(fiber.Map{
		"data":      webhooks,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// HandleGetWebhook returns one delivery with its full raw payload. The path
// segment is either the numeric row id or the public UUID handle.
func HandleGetWebhook(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetIncomeWebhookRepository()

	var webhook *models.IncomeWebhook
	var err error
	if id, ok := parseIDParam(c, "id"); ok {
		webhook, err = repo.GetByID(id)
	} else {
		webhook, err = repo.GetByUUID(c.Params("id"))
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "webhook not found"})
		}
		log.Printf("income webhook lookup failed for %q: %v", c.Params("id"), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return c.JSON(webhook)
}

// HandlePendingCount serves the review badge counter, cached briefly since
// the admin UI polls it.
func HandlePendingCount(c *fiber.Ctx) error {
	if cached, err := cache.GetInt(pendingCountCacheKey); err == nil {
		return c.JSON(fiber.Map{"count": cached})
	}

	repo := repository.GetGlobalFactory().GetIncomeWebhookRepository()
	count, err := repo.CountByStatus(models.WEBHOOK_STATUS_PENDING)
	if err != nil {
		log.Printf("pending webhook count failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	if err := cache.Set(pendingCountCacheKey, count, pendingCountCacheTTL); err != nil {
		log.Printf("failed to cache pending webhook count: %v", err)
	}
	return c.JSON(fiber.Map{"count": count})
}

type confirmWebhookRequest struct {
	ProjectID  uint   `json:"project_id" validate:"required,gt=0"`
	CategoryID *uint  `json:"category_id"`
	ItemName   string `json:"item_name" validate:"max=200"`
	ReviewNote string `json:"review_note" validate:"max=500"`
	ReviewerID *uint  `json:"reviewer_id"`
}

// HandleConfirmWebhook materializes a pending webhook into the ledger.
func HandleConfirmWebhook(c *fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "id must be a positive integer"})
	}

	var req confirmWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "project_id is required and must be positive"})
	}

	svc := newIncomeService()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, err := svc.Confirm(ctx, id, income.ConfirmInput{
		ProjectID:  req.ProjectID,
		CategoryID: req.CategoryID,
		ItemName:   req.ItemName,
		ReviewNote: req.ReviewNote,
		ReviewerID: req.ReviewerID,
	})
	if err != nil {
		return reviewErrorResponse(c, err)
	}

	invalidatePendingCount()
	return c.JSON(fiber.Map{
		"confirmed":         true,
		"webhook_id":        outcome.WebhookID,
		"payment_item_id":   outcome.PaymentItemID,
		"payment_record_id": outcome.PaymentRecordID,
	})
}

type batchConfirmRequest struct {
	IDs        []uint `json:"ids" validate:"required,min=1,dive,gt=0"`
	ProjectID  uint   `json:"project_id" validate:"required,gt=0"`
	CategoryID *uint  `json:"category_id"`
	ReviewNote string `json:"review_note" validate:"max=500"`
	ReviewerID *uint  `json:"reviewer_id"`
}

// HandleBatchConfirm confirms a list of webhooks sequentially; one failure
// never aborts the batch.
func HandleBatchConfirm(c *fiber.Ctx) error {
	var req batchConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "ids must be non-empty and project_id positive"})
	}

	svc := newIncomeService()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result := svc.BatchConfirm(ctx, req.IDs, income.ConfirmInput{
		ProjectID:  req.ProjectID,
		CategoryID: req.CategoryID,
		ReviewNote: req.ReviewNote,
		ReviewerID: req.ReviewerID,
	})

	invalidatePendingCount()
	return c.JSON(result)
}

type rejectWebhookRequest struct {
	ReviewNote string `json:"review_note" validate:"max=500"`
	ReviewerID *uint  `json:"reviewer_id"`
}

// HandleRejectWebhook marks a pending webhook as rejected.
func HandleRejectWebhook(c *fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "id must be a positive integer"})
	}

	var req rejectWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}

	svc := newIncomeService()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := svc.Reject(ctx, id, req.ReviewerID, req.ReviewNote); err != nil {
		return reviewErrorResponse(c, err)
	}

	invalidatePendingCount()
	return c.JSON(fiber.Map{"rejected": true, "webhook_id": id})
}

// HandleReprocessWebhook resets a reviewed webhook back to pending. When the
// row had been materialized the ledger pair stays in place; the response
// names the detached item so the operator can clean up.
func HandleReprocessWebhook(c *fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "id must be a positive integer"})
	}

	svc := newIncomeService()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, err := svc.Reprocess(ctx, id)
	if err != nil {
		return reviewErrorResponse(c, err)
	}

	invalidatePendingCount()
	response := fiber.Map{"reprocessed": true, "webhook_id": outcome.WebhookID}
	if outcome.DetachedItemID != nil {
		response["ledger_detached"] = *outcome.DetachedItemID
	}
	return c.JSON(response)
}

// reviewErrorResponse maps service errors onto the admin-facing taxonomy:
// precise and actionable, unlike the sender-facing generic responses.
func reviewErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, income.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "webhook not found"})
	case errors.Is(err, income.ErrIllegalState):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "illegal_state", "message": err.Error()})
	case errors.Is(err, income.ErrAmountUnavailable):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount_unavailable", "message": "webhook has no parseable amount; create the ledger entry manually"})
	default:
		log.Printf("webhook review operation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
}

func invalidatePendingCount() {
	if err := cache.Delete(pendingCountCacheKey); err != nil {
		log.Printf("failed to invalidate pending webhook count cache: %v", err)
	}
}
