package income

import (
	"time"

	"github.com/finbridge-tw/finbridge/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the ingestion and review
// service. The PMS bridge reuses the same interface for its upserts.
type Repository interface {
	GetActiveSourceBySourceKey(sourceKey string) (*models.IncomeSource, error)
	GetSourceBySourceKey(sourceKey string) (*models.IncomeSource, error)
	GetSourceByID(id uint) (*models.IncomeSource, error)
	CreateSource(source *models.IncomeSource) error
	IncrementSourceStats(sourceID uint, receivedAt time.Time) error

	FindWebhookBySourceAndTxnID(sourceID uint, txnID string) (*models.IncomeWebhook, error)
	CreateWebhookIfNotExists(webhook *models.IncomeWebhook) (bool, *models.IncomeWebhook, error)
	GetWebhookByID(id uint) (*models.IncomeWebhook, error)
	SaveWebhook(webhook *models.IncomeWebhook) error

	CreateLedgerPair(item *models.PaymentItem, record *models.PaymentRecord) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an income repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetActiveSourceBySourceKey(sourceKey string) (*models.IncomeSource, error) {
	var source models.IncomeSource
	err := r.db.Where("source_key = ? AND is_active = ?", sourceKey, true).First(&source).Error
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *gormRepository) GetSourceBySourceKey(sourceKey string) (*models.IncomeSource, error) {
	var source models.IncomeSource
	err := r.db.Where("source_key = ?", sourceKey).First(&source).Error
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *gormRepository) GetSourceByID(id uint) (*models.IncomeSource, error) {
	var source models.IncomeSource
	if err := r.db.First(&source, id).Error; err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *gormRepository) CreateSource(source *models.IncomeSource) error {
	return r.db.Create(source).Error
}

// IncrementSourceStats bumps the receipt counter atomically in SQL. A
// read-modify-write in Go would lose updates under concurrent deliveries
// from the same source.
func (r *gormRepository) IncrementSourceStats(sourceID uint, receivedAt time.Time) error {
	return r.db.Model(&models.IncomeSource{}).
		Where("id = ?", sourceID).
		UpdateColumns(map[string]interface{}{
			"total_received":   gorm.Expr("total_received + ?", 1),
			"last_received_at": receivedAt,
		}).Error
}

func (r *gormRepository) FindWebhookBySourceAndTxnID(sourceID uint, txnID string) (*models.IncomeWebhook, error) {
	var webhook models.IncomeWebhook
	err := r.db.Where("source_id = ? AND external_transaction_id = ?", sourceID, txnID).
		First(&webhook).Error
	if err != nil {
		return nil, err
	}
	return &webhook, nil
}

// CreateWebhookIfNotExists inserts a delivery row. For rows carrying an
// external transaction id the composite unique index closes the
// check-then-insert race: a conflicting concurrent insert degrades into
// created=false plus the already-stored row, which the service reports as a
// duplicate success.
func (r *gormRepository) CreateWebhookIfNotExists(webhook *models.IncomeWebhook) (bool, *models.IncomeWebhook, error) {
	if webhook.ExternalTransactionID == nil {
		// No dedup key, nothing to conflict on.
		if err := r.db.Create(webhook).Error; err != nil {
			return false, nil, err
		}
		return true, webhook, nil
	}

	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source_id"},
			{Name: "external_transaction_id"},
		},
		DoNothing: true,
	}).Create(webhook)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	stored, err := r.FindWebhookBySourceAndTxnID(webhook.SourceID, *webhook.ExternalTransactionID)
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

func (r *gormRepository) GetWebhookByID(id uint) (*models.IncomeWebhook, error) {
	var webhook models.IncomeWebhook
	if err := r.db.First(&webhook, id).Error; err != nil {
		return nil, err
	}
	return &webhook, nil
}

func (r *gormRepository) SaveWebhook(webhook *models.IncomeWebhook) error {
	return r.db.Save(webhook).Error
}

// CreateLedgerPair inserts a payment item and its record in one transaction
// so a crash can never leave a half-materialized ledger entry.
func (r *gormRepository) CreateLedgerPair(item *models.PaymentItem, record *models.PaymentRecord) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		record.ItemID = item.ID
		return tx.Create(record).Error
	})
}
