package repository

import (
	"github.com/finbridge-tw/finbridge/app/models"
	"gorm.io/gorm"
)

// incomeSourceRepository implements the IncomeSourceRepository interface
type incomeSourceRepository struct {
	db *gorm.DB
}

// NewIncomeSourceRepository creates a new income source repository instance
func NewIncomeSourceRepository(db *gorm.DB) IncomeSourceRepository {
	return &incomeSourceRepository{db: db}
}

// Create registers a new ingestion source
func (r *incomeSourceRepository) Create(source *models.IncomeSource) error {
	return r.db.Create(source).Error
}

// GetByID retrieves a source by its ID, including inactive ones; history
// lookups must always resolve
func (r *incomeSourceRepository) GetByID(id uint) (*models.IncomeSource, error) {
	var source models.IncomeSource
	if err := r.db.First(&source, id).Error; err != nil {
		return nil, err
	}
	return &source, nil
}

// GetBySourceKey retrieves a source by its key regardless of active state
func (r *incomeSourceRepository) GetBySourceKey(sourceKey string) (*models.IncomeSource, error) {
	var source models.IncomeSource
	if err := r.db.Where("source_key = ?", sourceKey).First(&source).Error; err != nil {
		return nil, err
	}
	return &source, nil
}

// List retrieves sources with pagination, newest first
func (r *incomeSourceRepository) List(offset, limit int) ([]models.IncomeSource, error) {
	var sources []models.IncomeSource
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&sources).Error
	return sources, err
}

// Count returns the total number of sources
func (r *incomeSourceRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.IncomeSource{}).Count(&count).Error
	return count, err
}

// Update saves an existing source
func (r *incomeSourceRepository) Update(source *models.IncomeSource) error {
	return r.db.Save(source).Error
}

// Deactivate soft-deletes a source by flipping is_active
func (r *incomeSourceRepository) Deactivate(id uint) error {
	result := r.db.Model(&models.IncomeSource{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SourceKeyExists checks if a source key is already taken
func (r *incomeSourceRepository) SourceKeyExists(sourceKey string) (bool, error) {
	var count int64
	err := r.db.Model(&models.IncomeSource{}).Where("source_key = ?", sourceKey).Count(&count).Error
	return count > 0, err
}

// SourceKeyExistsExceptID checks if a source key exists excluding a specific ID
func (r *incomeSourceRepository) SourceKeyExistsExceptID(sourceKey string, id uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.IncomeSource{}).
		Where("source_key = ? AND id != ?", sourceKey, id).Count(&count).Error
	return count > 0, err
}
