package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PAYMENT_METHOD_CASH     = "cash"
	PAYMENT_METHOD_TRANSFER = "transfer"
	PAYMENT_METHOD_WEBHOOK  = "webhook"
)

// PaymentRecord is one realized payment against a PaymentItem. The
// materializer creates exactly one record per webhook-confirmed item; its
// notes carry the provenance trail back to the originating delivery.
type PaymentRecord struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	ItemID        uint            `gorm:"not null;index" json:"item_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	PaidAt        time.Time       `gorm:"type:date;not null;index" json:"paid_at"`
	PaymentMethod string          `gorm:"type:varchar(20);not null;default:'transfer'" json:"payment_method"`
	Notes         string          `gorm:"type:varchar(500)" json:"notes"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Item *PaymentItem `gorm:"foreignKey:ItemID" json:"item,omitempty"`
}
