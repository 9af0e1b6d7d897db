package controllers

import (
	"errors"
	"log"

	"github.com/finbridge-tw/finbridge/app/models"
	"github.com/finbridge-tw/finbridge/app/repository"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// sourceResponse masks credentials: reads never return more than the last
// four characters of a secret.
func sourceResponse(s *models.IncomeSource) fiber.Map {
	return fiber.Map{
		"id":                  s.ID,
		"name":                s.Name,
		"source_key":          s.SourceKey,
		"auth_type":           s.AuthType,
		"api_token":           s.MaskedAPIToken(),
		"webhook_secret":      s.MaskedWebhookSecret(),
		"field_mapping":       s.FieldMapping,
		"auto_confirm":        s.AutoConfirm,
		"default_project_id":  s.DefaultProjectID,
		"default_category_id": s.DefaultCategoryID,
		"default_currency":    s.DefaultCurrency,
		"allowed_ips":         s.AllowedIPList(),
		"total_received":      s.TotalReceived,
		"last_received_at":    s.LastReceivedAt,
		"is_active":           s.IsActive,
		"created_at":          s.CreatedAt,
		"updated_at":          s.UpdatedAt,
	}
}

// HandleListSources returns all sources, inactive ones included, with
// masked credentials.
func HandleListSources(c *fiber.Ctx) error {
	page, pageSize, offset := parsePagination(c)

	repo := repository.GetGlobalFactory().GetIncomeSourceRepository()
	sources, err := repo.List(offset, pageSize)
	if err != nil {
		log.Printf("income source listing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	total, err := repo.Count()
	if err != nil {
		log.Printf("income source count failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	data := make([]fiber.Map, 0, len(sources))
	for i := range sources {
		data = append(data, sourceResponse(&sources[i]))
	}
	return c.JSON(fiber.Map{"data": data, "total": total, "page": page, "page_size": pageSize})
}

// HandleGetSource returns one source by id, masked.
func HandleGetSource(c *fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "id must be a positive integer"})
	}

	repo := repository.GetGlobalFactory().GetIncomeSourceRepository()
	source, err := repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "income source not found"})
		}
		log.Printf("income source lookup failed for id %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return c.JSON(sourceResponse(source))
}

// HandleGetSourceStats returns the denormalized receipt counters for one
// source.
func HandleGetSourceStats(c *fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "id must be a positive integer"})
	}

	repo := repository.GetGlobalFactory().GetIncomeSourceRepository()
	source, err := repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "income source not found"})
		}
		log.Printf("income source lookup failed for id %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return c.JSON(fiber.Map{
		"source_id":        source.ID,
		"total_received":   source.TotalReceived,
		"last_received_at": source.LastReceivedAt,
		"is_active":        source.IsActive,
	})
}

type sourceRequest struct {
	Name              string            `json:"name"`
	SourceKey         string            `json:"source_key"`
	AuthType          string            `json:"auth_type"`
	APIToken          string            `json:"api_token"`
	WebhookSecret     string            `json:"webhook_secret"`
	FieldMapping      map[string]string `json:"field_mapping"`
	AutoConfirm       *bool             `json:"auto_confirm"`
	DefaultProjectID  *uint             `json:"default_project_id"`
	DefaultCategoryID *uint             `json:"default_category_id"`
	DefaultCurrency   string            `json:"default_currency"`
	AllowedIPs        []string          `json:"allowed_ips"`
	IsActive          *bool             `json:"is_active"`
}

// HandleCreateSource registers a new ingestion endpoint.
func HandleCreateSource(c *fiber.Ctx) error {
	var req sourceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}

	repo := repository.GetGlobalFactory().GetIncomeSourceRepository()
	exists, err := repo.SourceKeyExists(req.SourceKey)
	if err != nil {
		log.Printf("source key check failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	if exists {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "source_key already exists"})
	}

	source := &models.IncomeSource{
		Name:              req.Name,
		SourceKey:         req.SourceKey,
		AuthType:          req.AuthType,
		APIToken:          req.APIToken,
		WebhookSecret:     req.WebhookSecret,
		DefaultProjectID:  req.DefaultProjectID,
		DefaultCategoryID: req.DefaultCategoryID,
		DefaultCurrency:   req.DefaultCurrency,
		IsActive:          true,
	}
	if source.AuthType == "" {
		source.AuthType = models.AUTH_TYPE_TOKEN
	}
	if source.DefaultCurrency == "" {
		source.DefaultCurrency = models.DEFAULT_CURRENCY
	}
	if req.AutoConfirm != nil {
		source.AutoConfirm = *req.AutoConfirm
	}
	if req.FieldMapping != nil {
		if err := source.SetFieldMapping(req.FieldMapping); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "field_mapping must map canonical fields to dot-paths"})
		}
	}
	if err := source.SetAllowedIPs(req.AllowedIPs); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "allowed_ips must be a list of IP strings"})
	}
	if err := source.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	if err := repo.Create(source); err != nil {
		log.Printf("income source creation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return c.Status(fiber.StatusCreated).JSON(sourceResponse(source))
}

// HandleUpdateSource applies a partial update. Secrets are only overwritten
// when a new value is supplied; an empty value or a round-tripped masked
// representation leaves the stored credential untouched.
func HandleUpdateSource(c *fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "id must be a positive integer"})
	}

	var req sourceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}

	repo := repository.GetGlobalFactory().GetIncomeSourceRepository()
	source, err := repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "income source not found"})
		}
		log.Printf("income source lookup failed for id %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	if req.SourceKey != "" && req.SourceKey != source.SourceKey {
		taken, err := repo.SourceKeyExistsExceptID(req.SourceKey, id)
		if err != nil {
			log.Printf("source key check failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
		}
		if taken {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "source_key already exists"})
		}
		source.SourceKey = req.SourceKey
	}
	if req.Name != "" {
		source.Name = req.Name
	}
	if req.AuthType != "" {
		source.AuthType = req.AuthType
	}
	if req.APIToken != "" && !maskedSecretInput(req.APIToken) {
		source.APIToken = req.APIToken
	}
	if req.WebhookSecret != "" && !maskedSecretInput(req.WebhookSecret) {
		source.WebhookSecret = req.WebhookSecret
	}
	if req.FieldMapping != nil {
		if err := source.SetFieldMapping(req.FieldMapping); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "field_mapping must map canonical fields to dot-paths"})
		}
	}
	if req.AllowedIPs != nil {
		if err := source.SetAllowedIPs(req.AllowedIPs); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "allowed_ips must be a list of IP strings"})
		}
	}
	if req.AutoConfirm != nil {
		source.AutoConfirm = *req.AutoConfirm
	}
	if req.DefaultProjectID != nil {
		source.DefaultProjectID = req.DefaultProjectID
	}
	if req.DefaultCategoryID != nil {
		source.DefaultCategoryID = req.DefaultCategoryID
	}
	if req.DefaultCurrency != "" {
		source.DefaultCurrency = req.DefaultCurrency
	}
	if req.IsActive != nil {
		source.IsActive = *req.IsActive
	}
	if err := source.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	if err := repo.Update(source); err != nil {
		log.Printf("income source update failed for id %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return c.JSON(sourceResponse(source))
}

// HandleDeleteSource deactivates a source. Webhook history keeps pointing at
// it, so rows are never hard-deleted.
func HandleDeleteSource(c *fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "id must be a positive integer"})
	}

	repo := repository.GetGlobalFactory().GetIncomeSourceRepository()
	if err := repo.Deactivate(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "income source not found"})
		}
		log.Printf("income source deactivation failed for id %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
	return c.JSON(fiber.Map{"deactivated": true, "id": id})
}
