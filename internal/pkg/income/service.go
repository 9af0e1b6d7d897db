package income

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/finbridge-tw/finbridge/app/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service implements the webhook ingestion engine, the manual review state
// machine and the ledger materializer.
type Service struct {
	repo Repository
}

// NewService creates an income service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates an income service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// GetActiveSource resolves a webhook URL source key among active sources.
// Inactive sources do not match; the HTTP layer answers unknown keys with a
// generic acknowledgment so probers cannot enumerate valid keys.
func (s *Service) GetActiveSource(ctx context.Context, sourceKey string) (*models.IncomeSource, error) {
	_ = ctx
	source, err := s.repo.GetActiveSourceBySourceKey(strings.TrimSpace(sourceKey))
	if err != nil {
		return nil, translateNotFound(err)
	}
	return source, nil
}

// ReceiveWebhook runs one delivery through the ingestion pipeline:
// IP allowlist, authentication, field mapping, dedup, persistence, source
// stats, optional auto-materialization. Verification failures surface as
// ErrAuthFailed and persist nothing; duplicates are an idempotent success.
func (s *Service) ReceiveWebhook(ctx context.Context, source *models.IncomeSource, rawBody []byte, meta RequestMeta) ReceiveResult {
	_ = ctx

	if !VerifyIPAllowlist(meta.RequestIP, source.AllowedIPList()) {
		return ReceiveResult{Err: fmt.Errorf("%w: ip not allowed", ErrAuthFailed)}
	}

	// The single auth modes are strict: a configured credential must arrive
	// and verify. Only "both" skips a missing header, and then only when the
	// other credential is presented and verifies.
	signatureValid := false
	switch source.AuthType {
	case models.AUTH_TYPE_TOKEN:
		if source.APIToken != "" {
			if !VerifyBearerToken(meta.TokenHeader, source.APIToken) {
				return ReceiveResult{Err: fmt.Errorf("%w: invalid token", ErrAuthFailed)}
			}
		}
	case models.AUTH_TYPE_HMAC:
		if source.WebhookSecret != "" {
			signatureValid = VerifyHMACSignature(rawBody, meta.SignatureHeader, source.WebhookSecret)
			if !signatureValid {
				return ReceiveResult{Err: fmt.Errorf("%w: invalid signature", ErrAuthFailed)}
			}
		}
	case models.AUTH_TYPE_BOTH:
		verified := false
		if source.APIToken != "" && meta.TokenHeader != "" {
			if !VerifyBearerToken(meta.TokenHeader, source.APIToken) {
				return ReceiveResult{Err: fmt.Errorf("%w: invalid token", ErrAuthFailed)}
			}
			verified = true
		}
		if source.WebhookSecret != "" && meta.SignatureHeader != "" {
			signatureValid = VerifyHMACSignature(rawBody, meta.SignatureHeader, source.WebhookSecret)
			if !signatureValid {
				return ReceiveResult{Err: fmt.Errorf("%w: invalid signature", ErrAuthFailed)}
			}
			verified = true
		}
		if !verified {
			return ReceiveResult{Err: fmt.Errorf("%w: missing credentials", ErrAuthFailed)}
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		// Non-JSON bodies are still stored as raw evidence; the mapped
		// projection just stays empty and the row awaits manual review.
		payload = nil
	}
	mapping, err := source.FieldMappingMap()
	if err != nil {
		log.Printf("income source %d has an invalid field mapping: %v", source.ID, err)
		mapping = map[string]string{}
	}
	parsed := MapPayload(payload, mapping)

	// Fast-path dedup; the unique index on (source_id, external_transaction_id)
	// is the actual guarantee and closes the race below.
	if parsed.TransactionID != "" {
		existing, err := s.repo.FindWebhookBySourceAndTxnID(source.ID, parsed.TransactionID)
		if err == nil {
			return ReceiveResult{Success: true, WebhookID: existing.ID, IsDuplicate: true}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return ReceiveResult{Err: err}
		}
	}

	currency := parsed.Currency
	if currency == "" {
		currency = source.DefaultCurrency
	}
	if currency == "" {
		currency = models.DEFAULT_CURRENCY
	}
	var amountTWD *decimal.Decimal
	if currency == models.DEFAULT_CURRENCY {
		amountTWD = parsed.Amount
	}
	// Non-TWD amounts leave the normalized column NULL until FX support lands.

	canAutoConfirm := source.AutoConfirm &&
		source.DefaultProjectID != nil &&
		(amountTWD != nil || parsed.Amount != nil)

	webhook := &models.IncomeWebhook{
		UUID:               uuid.NewString(),
		SourceID:           source.ID,
		RawPayload:         string(rawBody),
		RequestIP:          meta.RequestIP,
		RequestHeaders:     marshalHeaders(meta.RequestHeaders),
		SignatureValid:     signatureValid,
		ParsedAmount:       parsed.Amount,
		ParsedCurrency:     currency,
		ParsedAmountTWD:    amountTWD,
		ParsedDescription:  parsed.Description,
		ParsedPaidAt:       parsed.PaidAt,
		ParsedPayerName:    parsed.PayerName,
		ParsedPayerContact: parsed.PayerContact,
		ParsedOrderID:      parsed.OrderID,
		Status:             models.WEBHOOK_STATUS_PENDING,
	}
	if parsed.TransactionID != "" {
		webhook.ExternalTransactionID = &parsed.TransactionID
	}
	if canAutoConfirm {
		webhook.Status = models.WEBHOOK_STATUS_CONFIRMED
	}

	created, stored, err := s.repo.CreateWebhookIfNotExists(webhook)
	if err != nil {
		return ReceiveResult{Err: err}
	}
	if !created {
		return ReceiveResult{Success: true, WebhookID: stored.ID, IsDuplicate: true}
	}

	// Stats reflect receipt, not successful processing; they must be bumped
	// even when the materialization below fails.
	if err := s.repo.IncrementSourceStats(source.ID, time.Now()); err != nil {
		log.Printf("failed to increment stats for income source %d: %v", source.ID, err)
	}

	if canAutoConfirm {
		itemID, recordID, err := s.materialize(stored, *source.DefaultProjectID, source.DefaultCategoryID, "")
		if err != nil {
			// The delivery itself succeeded; park the row for manual review
			// so linked ids stay consistent with the confirmed status.
			log.Printf("auto-materialization failed for webhook %d: %v", stored.ID, err)
			stored.Status = models.WEBHOOK_STATUS_PENDING
			stored.ReviewNote = "auto-confirm failed: " + err.Error()
			if saveErr := s.repo.SaveWebhook(stored); saveErr != nil {
				log.Printf("failed to park webhook %d as pending: %v", stored.ID, saveErr)
			}
			return ReceiveResult{Success: true, WebhookID: stored.ID}
		}
		now := time.Now()
		stored.LinkedItemID = &itemID
		stored.LinkedRecordID = &recordID
		stored.ProcessedAt = &now
		if err := s.repo.SaveWebhook(stored); err != nil {
			return ReceiveResult{Err: err}
		}
	}

	return ReceiveResult{Success: true, WebhookID: stored.ID}
}

// Confirm transitions a pending webhook to confirmed, materializing it into
// the ledger with the given target. Only pending rows with a parseable
// amount qualify.
func (s *Service) Confirm(ctx context.Context, webhookID uint, in ConfirmInput) (*ConfirmOutcome, error) {
	_ = ctx
	webhook, err := s.repo.GetWebhookByID(webhookID)
	if err != nil {
		return nil, translateNotFound(err)
	}
	if !webhook.IsPending() {
		return nil, fmt.Errorf("%w: webhook %d is %s, confirm requires pending", ErrIllegalState, webhookID, webhook.Status)
	}
	if webhook.EffectiveAmount() == nil {
		return nil, ErrAmountUnavailable
	}
	if in.ProjectID == 0 {
		return nil, errors.New("project_id is required")
	}

	itemID, recordID, err := s.materialize(webhook, in.ProjectID, in.CategoryID, in.ItemName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	webhook.Status = models.WEBHOOK_STATUS_CONFIRMED
	webhook.ReviewedByUserID = in.ReviewerID
	webhook.ReviewedAt = &now
	webhook.ReviewNote = in.ReviewNote
	webhook.LinkedItemID = &itemID
	webhook.LinkedRecordID = &recordID
	webhook.ProcessedAt = &now
	if err := s.repo.SaveWebhook(webhook); err != nil {
		return nil, err
	}

	return &ConfirmOutcome{WebhookID: webhook.ID, PaymentItemID: itemID, PaymentRecordID: recordID}, nil
}

// Reject transitions a pending webhook to rejected without touching the
// ledger.
func (s *Service) Reject(ctx context.Context, webhookID uint, reviewerID *uint, note string) error {
	_ = ctx
	webhook, err := s.repo.GetWebhookByID(webhookID)
	if err != nil {
		return translateNotFound(err)
	}
	if !webhook.IsPending() {
		return fmt.Errorf("%w: webhook %d is %s, reject requires pending", ErrIllegalState, webhookID, webhook.Status)
	}

	now := time.Now()
	webhook.Status = models.WEBHOOK_STATUS_REJECTED
	webhook.ReviewedByUserID = reviewerID
	webhook.ReviewedAt = &now
	webhook.ReviewNote = note
	return s.repo.SaveWebhook(webhook)
}

// Reprocess resets a confirmed or rejected webhook back to pending, clearing
// review metadata and linked ledger ids. An already-created ledger pair is
// detached, not voided: deleting financial records silently would destroy
// audit history, so the outcome names the orphaned item for manual cleanup.
func (s *Service) Reprocess(ctx context.Context, webhookID uint) (*ReprocessOutcome, error) {
	_ = ctx
	webhook, err := s.repo.GetWebhookByID(webhookID)
	if err != nil {
		return nil, translateNotFound(err)
	}
	if !webhook.IsTerminal() {
		return nil, fmt.Errorf("%w: webhook %d is %s, reprocess requires confirmed or rejected", ErrIllegalState, webhookID, webhook.Status)
	}

	detached := webhook.LinkedItemID
	webhook.Status = models.WEBHOOK_STATUS_PENDING
	webhook.ReviewedByUserID = nil
	webhook.ReviewedAt = nil
	webhook.ReviewNote = ""
	webhook.LinkedItemID = nil
	webhook.LinkedRecordID = nil
	webhook.ProcessedAt = nil
	if err := s.repo.SaveWebhook(webhook); err != nil {
		return nil, err
	}
	return &ReprocessOutcome{WebhookID: webhook.ID, DetachedItemID: detached}, nil
}

// BatchConfirm applies Confirm to each id sequentially. One id's failure
// never aborts the batch; results keep input order for error attribution.
func (s *Service) BatchConfirm(ctx context.Context, webhookIDs []uint, in ConfirmInput) BatchConfirmResult {
	out := BatchConfirmResult{Results: make([]BatchItemResult, 0, len(webhookIDs))}
	for _, id := range webhookIDs {
		outcome, err := s.Confirm(ctx, id, in)
		if err != nil {
			out.Failed++
			out.Results = append(out.Results, BatchItemResult{WebhookID: id, Error: err.Error()})
			continue
		}
		out.Succeeded++
		out.Results = append(out.Results, BatchItemResult{
			WebhookID: id,
			Success:   true,
			ItemID:    &outcome.PaymentItemID,
		})
	}
	return out
}

// materialize books one fully-paid income item plus its payment record for a
// webhook. Not idempotent by itself; dedup and the state machine guarantee a
// single invocation per webhook.
func (s *Service) materialize(webhook *models.IncomeWebhook, projectID uint, categoryID *uint, itemName string) (uint, uint, error) {
	amount := decimal.Zero
	if a := webhook.EffectiveAmount(); a != nil {
		amount = *a
	}

	paidAt := time.Now()
	if webhook.ParsedPaidAt != nil {
		paidAt = *webhook.ParsedPaidAt
	}
	// The ledger keys on the calendar date, not the delivery instant.
	date := time.Date(paidAt.Year(), paidAt.Month(), paidAt.Day(), 0, 0, 0, 0, paidAt.Location())

	name := strings.TrimSpace(itemName)
	if name == "" {
		name = strings.TrimSpace(webhook.ParsedDescription)
	}
	if name == "" {
		name = "進帳 " + date.Format("2006-01-02")
	}

	currency := models.DEFAULT_CURRENCY
	if webhook.ParsedAmountTWD == nil && webhook.ParsedCurrency != "" {
		currency = webhook.ParsedCurrency
	}

	item := &models.PaymentItem{
		Name:        name,
		ItemType:    models.ITEM_TYPE_INCOME,
		PaymentType: models.PAYMENT_TYPE_SINGLE,
		ProjectID:   projectID,
		CategoryID:  categoryID,
		TotalAmount: amount,
		PaidAmount:  amount,
		Currency:    currency,
		Date:        date,
		Status:      models.ITEM_STATUS_PAID,
		Source:      models.ITEM_SOURCE_WEBHOOK,
	}
	record := &models.PaymentRecord{
		Amount:        amount,
		PaidAt:        date,
		PaymentMethod: models.PAYMENT_METHOD_WEBHOOK,
		Notes:         provenanceNotes(webhook),
	}
	if err := s.repo.CreateLedgerPair(item, record); err != nil {
		return 0, 0, err
	}
	return item.ID, record.ID, nil
}

// provenanceNotes pipe-joins whatever identifying facts the delivery carried;
// this is the only audit link back to the webhook once the systems diverge.
func provenanceNotes(webhook *models.IncomeWebhook) string {
	parts := make([]string, 0, 3)
	if webhook.ParsedPayerName != "" {
		parts = append(parts, webhook.ParsedPayerName)
	}
	if webhook.ParsedOrderID != "" {
		parts = append(parts, "order:"+webhook.ParsedOrderID)
	}
	if webhook.ExternalTransactionID != nil && *webhook.ExternalTransactionID != "" {
		parts = append(parts, "txn:"+*webhook.ExternalTransactionID)
	}
	return strings.Join(parts, " | ")
}

func marshalHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return ""
	}
	return string(b)
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
