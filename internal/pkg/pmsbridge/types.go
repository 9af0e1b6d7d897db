package pmsbridge

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SourceKey is the fixed income source the bridge upserts into. The row is
// created lazily on first use and never auto-confirms: PMS-sourced income
// always passes through human review before it reaches the ledger.
const SourceKey = "pms-bridge"

// Sentinel errors the controllers translate into HTTP statuses.
var (
	// ErrNotConfigured distinguishes "optional integration absent" from
	// real failures; the HTTP layer maps it to 503.
	ErrNotConfigured = errors.New("pms bridge is not configured: PMS_DATABASE_URL is empty")

	// ErrPMSUnavailable wraps read failures of the external store; also 503,
	// as opposed to primary-store failures, which are internal errors.
	ErrPMSUnavailable = errors.New("pms store is unreachable")

	// ErrInvalidMonthRange marks malformed or inverted YYYY-MM bounds.
	ErrInvalidMonthRange = errors.New("invalid month range")
)

// PerformanceEntry mirrors one row of the external read-only performance
// store. Values are cumulative-to-date per branch and get rewritten several
// times as a month progresses.
type PerformanceEntry struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	BranchID          uint            `gorm:"column:branch_id" json:"branch_id"`
	BranchName        string          `gorm:"column:branch_name" json:"branch_name"`
	RecordDate        time.Time       `gorm:"column:record_date" json:"record_date"`
	CumulativeRevenue decimal.Decimal `gorm:"column:cumulative_revenue" json:"cumulative_revenue"`
}

func (PerformanceEntry) TableName() string {
	return "monthly_performance"
}

// BranchMonthRevenue is the reduced read model: for each (branch, month) the
// row with the latest record date, i.e. the month's true realized total.
type BranchMonthRevenue struct {
	BranchID   uint            `json:"branch_id"`
	BranchName string          `json:"branch_name"`
	Month      string          `json:"month"`
	Amount     decimal.Decimal `json:"amount"`
	RecordDate time.Time       `json:"record_date"`
}

// SyncResult aggregates one sync run. Skipped counts rows whose amount was
// unchanged within tolerance; Updated counts mid-month revisions.
type SyncResult struct {
	Synced  int      `json:"synced"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Months  []string `json:"months"`
}

// CompareRow cross-checks bridge revenue against the ledger's own recorded
// income for one month, for drift detection.
type CompareRow struct {
	Month        string          `json:"month"`
	PMSAmount    decimal.Decimal `json:"pms_amount"`
	LedgerAmount decimal.Decimal `json:"ledger_amount"`
	Delta        decimal.Decimal `json:"delta"`
}

// MonthlyLedgerTotal is one month's paid income total from the primary
// ledger.
type MonthlyLedgerTotal struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}
