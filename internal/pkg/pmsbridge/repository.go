package pmsbridge

import (
	"fmt"
	"time"

	"github.com/finbridge-tw/finbridge/app/models"
	"gorm.io/gorm"
)

// Repository provides the two read models the bridge needs: the external
// performance store and the primary ledger's monthly income totals.
type Repository interface {
	ReadEntries(start, end time.Time) ([]PerformanceEntry, error)
	MonthlyConfirmedIncome(start, end time.Time) ([]MonthlyLedgerTotal, error)
}

type gormRepository struct {
	db  *gorm.DB // primary store
	pms *gorm.DB // external read-only performance store, nil when unconfigured
}

// NewRepository creates a bridge repository. pms may be nil; reads then fail
// with ErrNotConfigured.
func NewRepository(db, pms *gorm.DB) Repository {
	return &gormRepository{db: db, pms: pms}
}

func (r *gormRepository) ReadEntries(start, end time.Time) ([]PerformanceEntry, error) {
	if r.pms == nil {
		return nil, ErrNotConfigured
	}
	var entries []PerformanceEntry
	err := r.pms.Where("record_date >= ? AND record_date < ?", start, end).
		Order("record_date ASC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPMSUnavailable, err)
	}
	return entries, nil
}

func (r *gormRepository) MonthlyConfirmedIncome(start, end time.Time) ([]MonthlyLedgerTotal, error) {
	var totals []MonthlyLedgerTotal
	err := r.db.Model(&models.PaymentItem{}).
		Select("DATE_FORMAT(date, '%Y-%m') AS month, SUM(total_amount) AS amount").
		Where("item_type = ? AND status = ? AND date >= ? AND date < ?",
			models.ITEM_TYPE_INCOME, models.ITEM_STATUS_PAID, start, end).
		Group("month").Order("month ASC").
		Scan(&totals).Error
	return totals, err
}
