package repository

import (
	"github.com/finbridge-tw/finbridge/app/models"
	"gorm.io/gorm"
)

// IncomeSourceRepository defines the admin-facing operations over ingestion
// sources. Delete is soft by design: webhook history references source ids
// and must stay explicable, so sources are deactivated, never removed.
type IncomeSourceRepository interface {
	Create(source *models.IncomeSource) error
	GetByID(id uint) (*models.IncomeSource, error)
	GetBySourceKey(sourceKey string) (*models.IncomeSource, error)
	List(offset, limit int) ([]models.IncomeSource, error)
	Count() (int64, error)
	Update(source *models.IncomeSource) error
	Deactivate(id uint) error
	SourceKeyExists(sourceKey string) (bool, error)
	SourceKeyExistsExceptID(sourceKey string, id uint) (bool, error)
}

// WebhookListFilter narrows the admin webhook listing.
type WebhookListFilter struct {
	SourceID *uint
	Status   string
	Offset   int
	Limit    int
}

// IncomeWebhookRepository defines the admin-facing operations over received
// deliveries.
type IncomeWebhookRepository interface {
	GetByID(id uint) (*models.IncomeWebhook, error)
	GetByUUID(uuid string) (*models.IncomeWebhook, error)
	List(filter WebhookListFilter) ([]models.IncomeWebhook, int64, error)
	CountByStatus(status string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	IncomeSource  IncomeSourceRepository
	IncomeWebhook IncomeWebhookRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		IncomeSource:  NewIncomeSourceRepository(db),
		IncomeWebhook: NewIncomeWebhookRepository(db),
	}
}
