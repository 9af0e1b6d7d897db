package repository

import (
	"github.com/finbridge-tw/finbridge/app/models"
	"gorm.io/gorm"
)

// incomeWebhookRepository implements the IncomeWebhookRepository interface
type incomeWebhookRepository struct {
	db *gorm.DB
}

// NewIncomeWebhookRepository creates a new income webhook repository instance
func NewIncomeWebhookRepository(db *gorm.DB) IncomeWebhookRepository {
	return &incomeWebhookRepository{db: db}
}

// GetByID retrieves a webhook by its ID
func (r *incomeWebhookRepository) GetByID(id uint) (*models.IncomeWebhook, error) {
	var webhook models.IncomeWebhook
	if err := r.db.Preload("Source").First(&webhook, id).Error; err != nil {
		return nil, err
	}
	return &webhook, nil
}

// GetByUUID retrieves a webhook by its public UUID handle
func (r *incomeWebhookRepository) GetByUUID(uuid string) (*models.IncomeWebhook, error) {
	var webhook models.IncomeWebhook
	if err := r.db.Preload("Source").Where("uuid = ?", uuid).First(&webhook).Error; err != nil {
		return nil, err
	}
	return &webhook, nil
}

// List retrieves webhooks with pagination and optional source/status filter,
// newest first
func (r *incomeWebhookRepository) List(filter WebhookListFilter) ([]models.IncomeWebhook, int64, error) {
	query := r.db.Model(&models.IncomeWebhook{})
	if filter.SourceID != nil {
		query = query.Where("source_id = ?", *filter.SourceID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var webhooks []models.IncomeWebhook
	err := query.Order("created_at DESC").
		Offset(filter.Offset).Limit(filter.Limit).
		Find(&webhooks).Error
	return webhooks, total, err
}

// CountByStatus returns the number of webhooks in a given status
func (r *incomeWebhookRepository) CountByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&models.IncomeWebhook{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
