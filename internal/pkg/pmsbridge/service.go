package pmsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/finbridge-tw/finbridge/app/models"
	"github.com/finbridge-tw/finbridge/internal/pkg/income"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// amountTolerance absorbs float round-trips through the external store;
// differences at or below it count as unchanged.
var amountTolerance = decimal.NewFromFloat(0.01)

// Service implements the pull-based ingestion variant: it reduces the
// external store's cumulative monthly rows to one latest value per branch
// per month and upserts synthetic webhook rows keyed by a deterministic
// transaction id, so re-running mid-month updates instead of duplicating.
type Service struct {
	repo       Repository
	incomeRepo income.Repository
}

// NewService creates a bridge service from injected repositories.
func NewService(repo Repository, incomeRepo income.Repository) *Service {
	return &Service{repo: repo, incomeRepo: incomeRepo}
}

// NewServiceFromDB creates a bridge service from DB handles; pms may be nil.
func NewServiceFromDB(db, pms *gorm.DB) *Service {
	return NewService(NewRepository(db, pms), income.NewRepository(db))
}

// Configured reports whether the external store connection exists.
func (s *Service) Configured() bool {
	_, err := s.repo.ReadEntries(time.Time{}, time.Time{})
	return !errors.Is(err, ErrNotConfigured)
}

// Preview runs the read-and-aggregate step without any writes, so an
// operator can verify the numbers before committing a sync.
func (s *Service) Preview(ctx context.Context, startMonth, endMonth string) ([]BranchMonthRevenue, error) {
	_ = ctx
	start, end, err := monthRange(startMonth, endMonth)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ReadEntries(start, end)
	if err != nil {
		return nil, err
	}
	return reduceLatest(entries), nil
}

// Sync upserts one synthetic webhook row per (branch, month). New rows are
// inserted as pending (never auto-confirmed); existing pending rows are
// revised in place when the amount moved beyond the tolerance, otherwise
// skipped. Rows already reviewed are left untouched.
func (s *Service) Sync(ctx context.Context, startMonth, endMonth string) (*SyncResult, error) {
	_ = ctx
	start, end, err := monthRange(startMonth, endMonth)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ReadEntries(start, end)
	if err != nil {
		return nil, err
	}
	aggregates := reduceLatest(entries)

	source, err := s.ensureBridgeSource()
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	months := map[string]struct{}{}
	for _, agg := range aggregates {
		months[agg.Month] = struct{}{}
		txnID := SyntheticTransactionID(agg.BranchID, agg.Month)

		existing, err := s.incomeRepo.FindWebhookBySourceAndTxnID(source.ID, txnID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			if err := s.insertBridgeWebhook(source.ID, txnID, agg); err != nil {
				return nil, err
			}
			result.Synced++
			continue
		}

		current := existing.EffectiveAmount()
		if current != nil && current.Sub(agg.Amount).Abs().LessThanOrEqual(amountTolerance) {
			result.Skipped++
			continue
		}
		if !existing.IsPending() {
			// Reviewed rows keep the numbers the reviewer saw.
			log.Printf("pms bridge: %s changed after review (webhook %d), leaving untouched", txnID, existing.ID)
			result.Skipped++
			continue
		}

		recordDate := agg.RecordDate
		existing.ParsedAmount = &agg.Amount
		existing.ParsedAmountTWD = &agg.Amount
		existing.ParsedPaidAt = &recordDate
		existing.RawPayload = bridgePayload(agg)
		if err := s.incomeRepo.SaveWebhook(existing); err != nil {
			return nil, err
		}
		result.Updated++
	}

	for m := range months {
		result.Months = append(result.Months, m)
	}
	sort.Strings(result.Months)
	return result, nil
}

// Compare cross-checks bridge revenue totals against the ledger's recorded
// paid income per month, surfacing drift between the two systems.
func (s *Service) Compare(ctx context.Context, startMonth, endMonth string) ([]CompareRow, error) {
	_ = ctx
	start, end, err := monthRange(startMonth, endMonth)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ReadEntries(start, end)
	if err != nil {
		return nil, err
	}
	ledger, err := s.repo.MonthlyConfirmedIncome(start, end)
	if err != nil {
		return nil, err
	}

	pmsByMonth := map[string]decimal.Decimal{}
	for _, agg := range reduceLatest(entries) {
		pmsByMonth[agg.Month] = pmsByMonth[agg.Month].Add(agg.Amount)
	}
	ledgerByMonth := map[string]decimal.Decimal{}
	for _, t := range ledger {
		ledgerByMonth[t.Month] = t.Amount
	}

	months := map[string]struct{}{}
	for m := range pmsByMonth {
		months[m] = struct{}{}
	}
	for m := range ledgerByMonth {
		months[m] = struct{}{}
	}

	rows := make([]CompareRow, 0, len(months))
	for m := range months {
		pms := pmsByMonth[m]
		led := ledgerByMonth[m]
		rows = append(rows, CompareRow{Month: m, PMSAmount: pms, LedgerAmount: led, Delta: pms.Sub(led)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Month < rows[j].Month })
	return rows, nil
}

// LookupBridgeSource returns the bridge's income source row without creating
// it; only Sync may create the row. Status reads must stay side-effect free.
func (s *Service) LookupBridgeSource(ctx context.Context) (*models.IncomeSource, error) {
	_ = ctx
	return s.incomeRepo.GetSourceBySourceKey(SourceKey)
}

func (s *Service) ensureBridgeSource() (*models.IncomeSource, error) {
	source, err := s.incomeRepo.GetSourceBySourceKey(SourceKey)
	if err == nil {
		return source, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	source = &models.IncomeSource{
		Name:            "PMS 營收橋接",
		SourceKey:       SourceKey,
		AuthType:        models.AUTH_TYPE_TOKEN,
		AutoConfirm:     false,
		DefaultCurrency: models.DEFAULT_CURRENCY,
		IsActive:        true,
	}
	if err := s.incomeRepo.CreateSource(source); err != nil {
		return nil, err
	}
	return source, nil
}

func (s *Service) insertBridgeWebhook(sourceID uint, txnID string, agg BranchMonthRevenue) error {
	amount := agg.Amount
	recordDate := agg.RecordDate
	webhook := &models.IncomeWebhook{
		UUID:                  uuid.NewString(),
		SourceID:              sourceID,
		ExternalTransactionID: &txnID,
		RawPayload:            bridgePayload(agg),
		ParsedAmount:          &amount,
		ParsedCurrency:        models.DEFAULT_CURRENCY,
		ParsedAmountTWD:       &amount,
		ParsedDescription:     fmt.Sprintf("PMS %s %s 營收", agg.BranchName, agg.Month),
		ParsedPaidAt:          &recordDate,
		Status:                models.WEBHOOK_STATUS_PENDING,
	}
	_, _, err := s.incomeRepo.CreateWebhookIfNotExists(webhook)
	return err
}

// SyntheticTransactionID is deterministic per (branch, month), which is what
// makes mid-month re-runs safe upserts instead of duplicates.
func SyntheticTransactionID(branchID uint, month string) string {
	return fmt.Sprintf("pms_%d_%s", branchID, month)
}

// reduceLatest keeps, per (branch, month), the entry with the latest record
// date. The store is cumulative-to-date, so the latest row is the month's
// realized total; summing rows would overcount.
func reduceLatest(entries []PerformanceEntry) []BranchMonthRevenue {
	type key struct {
		branchID uint
		month    string
	}
	latest := map[key]PerformanceEntry{}
	for _, e := range entries {
		k := key{branchID: e.BranchID, month: e.RecordDate.Format("2006-01")}
		if cur, ok := latest[k]; !ok || e.RecordDate.After(cur.RecordDate) {
			latest[k] = e
		}
	}

	out := make([]BranchMonthRevenue, 0, len(latest))
	for k, e := range latest {
		out = append(out, BranchMonthRevenue{
			BranchID:   e.BranchID,
			BranchName: e.BranchName,
			Month:      k.month,
			Amount:     e.CumulativeRevenue,
			RecordDate: e.RecordDate,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].BranchID < out[j].BranchID
	})
	return out
}

// monthRange turns "YYYY-MM" bounds into [firstDay, firstDayAfterEnd).
func monthRange(startMonth, endMonth string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01", startMonth)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start_month %q, expected YYYY-MM", ErrInvalidMonthRange, startMonth)
	}
	end, err := time.Parse("2006-01", endMonth)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_month %q, expected YYYY-MM", ErrInvalidMonthRange, endMonth)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_month %s precedes start_month %s", ErrInvalidMonthRange, endMonth, startMonth)
	}
	return start, end.AddDate(0, 1, 0), nil
}

func bridgePayload(agg BranchMonthRevenue) string {
	b, err := json.Marshal(map[string]any{
		"branch_id":   agg.BranchID,
		"branch_name": agg.BranchName,
		"month":       agg.Month,
		"amount":      agg.Amount,
		"record_date": agg.RecordDate.Format(time.RFC3339),
	})
	if err != nil {
		return "{}"
	}
	return string(b)
}
