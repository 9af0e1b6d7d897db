package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WEBHOOK_STATUS_PENDING   = "pending"
	WEBHOOK_STATUS_CONFIRMED = "confirmed"
	WEBHOOK_STATUS_REJECTED  = "rejected"
)

// IncomeWebhook stores one received (or synthesized) delivery together with
// the raw evidence and the parsed projection used for review.
//
// ExternalTransactionID is the dedup key, unique per source rather than
// globally: two sources may legitimately reuse the same upstream id. The
// composite unique index is the real duplicate guarantee; the application
// pre-check only provides the fast path.
type IncomeWebhook struct {
	ID                    uint             `gorm:"primaryKey" json:"id"`
	UUID                  string           `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	SourceID              uint             `gorm:"not null;index;index:ux_income_webhooks_source_txn,unique,priority:1" json:"source_id"`
	ExternalTransactionID *string          `gorm:"type:varchar(191);index:ux_income_webhooks_source_txn,unique,priority:2" json:"external_transaction_id"`
	RawPayload            string           `gorm:"type:longtext;not null" json:"raw_payload"`
	RequestIP             string           `gorm:"type:varchar(45)" json:"request_ip"`
	RequestHeaders        string           `gorm:"type:text" json:"request_headers"`
	SignatureValid        bool             `gorm:"default:false" json:"signature_valid"`
	ParsedAmount          *decimal.Decimal `gorm:"type:decimal(14,2);default:null" json:"parsed_amount"`
	ParsedCurrency        string           `gorm:"type:varchar(10)" json:"parsed_currency"`
	ParsedAmountTWD       *decimal.Decimal `gorm:"type:decimal(14,2);default:null" json:"parsed_amount_twd"`
	ParsedDescription     string           `gorm:"type:varchar(500)" json:"parsed_description"`
	ParsedPaidAt          *time.Time       `gorm:"type:timestamp;default:null" json:"parsed_paid_at"`
	ParsedPayerName       string           `gorm:"type:varchar(150)" json:"parsed_payer_name"`
	ParsedPayerContact    string           `gorm:"type:varchar(150)" json:"parsed_payer_contact"`
	ParsedOrderID         string           `gorm:"type:varchar(191)" json:"parsed_order_id"`
	Status                string           `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ReviewedByUserID      *uint            `gorm:"default:null" json:"reviewed_by_user_id"`
	ReviewedAt            *time.Time       `gorm:"type:timestamp;default:null" json:"reviewed_at"`
	ReviewNote            string           `gorm:"type:varchar(500)" json:"review_note"`
	LinkedItemID          *uint            `gorm:"default:null" json:"linked_item_id"`
	LinkedRecordID        *uint            `gorm:"default:null" json:"linked_record_id"`
	ProcessedAt           *time.Time       `gorm:"type:timestamp;default:null" json:"processed_at"`
	CreatedAt             time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time        `gorm:"autoUpdateTime" json:"updated_at"`

	Source *IncomeSource `gorm:"foreignKey:SourceID" json:"source,omitempty"`
}

// IsPending reports whether the row still awaits review.
func (w *IncomeWebhook) IsPending() bool {
	return w.Status == WEBHOOK_STATUS_PENDING
}

// IsTerminal reports whether the row is in a reviewed state that reprocess
// may reset back to pending.
func (w *IncomeWebhook) IsTerminal() bool {
	return w.Status == WEBHOOK_STATUS_CONFIRMED || w.Status == WEBHOOK_STATUS_REJECTED
}

// EffectiveAmount picks the amount the materializer should book: the
// TWD-normalized value when present, the raw parsed amount otherwise.
func (w *IncomeWebhook) EffectiveAmount() *decimal.Decimal {
	if w.ParsedAmountTWD != nil {
		return w.ParsedAmountTWD
	}
	return w.ParsedAmount
}
