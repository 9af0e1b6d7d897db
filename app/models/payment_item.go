package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ITEM_TYPE_INCOME  = "income"
	ITEM_TYPE_EXPENSE = "expense"

	PAYMENT_TYPE_SINGLE    = "single"
	PAYMENT_TYPE_RECURRING = "recurring"

	ITEM_STATUS_PENDING = "pending"
	ITEM_STATUS_PAID    = "paid"

	ITEM_SOURCE_MANUAL  = "manual"
	ITEM_SOURCE_WEBHOOK = "webhook"
)

// PaymentItem is one ledger entry. The income subsystem only ever inserts
// fully-paid income items (status paid, paid amount equal to total); any
// later edit belongs to the ledger's own CRUD.
type PaymentItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Name        string          `gorm:"type:varchar(200);not null" json:"name"`
	ItemType    string          `gorm:"type:varchar(20);not null;index" json:"item_type"`
	PaymentType string          `gorm:"type:varchar(20);not null;default:'single'" json:"payment_type"`
	ProjectID   uint            `gorm:"not null;index" json:"project_id"`
	CategoryID  *uint           `gorm:"default:null;index" json:"category_id"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_amount"`
	PaidAmount  decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"paid_amount"`
	Currency    string          `gorm:"type:varchar(10);not null;default:'TWD'" json:"currency"`
	Date        time.Time       `gorm:"type:date;not null;index" json:"date"`
	Status      string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Source      string          `gorm:"type:varchar(20);not null;default:'manual'" json:"source"`
	Notes       string          `gorm:"type:varchar(500)" json:"notes"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
