package income

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finbridge-tw/finbridge/app/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeRepository is an in-memory Repository for exercising the service's
// decision logic without a database.
type fakeRepository struct {
	sources  map[uint]*models.IncomeSource
	webhooks []*models.IncomeWebhook
	items    []*models.PaymentItem
	records  []*models.PaymentRecord

	nextWebhookID uint
	nextItemID    uint
	nextRecordID  uint

	statsCalls map[uint]int
	ledgerErr  error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		sources:    map[uint]*models.IncomeSource{},
		statsCalls: map[uint]int{},
	}
}

func (f *fakeRepository) addSource(source *models.IncomeSource) *models.IncomeSource {
	f.sources[source.ID] = source
	return source
}

func (f *fakeRepository) GetActiveSourceBySourceKey(sourceKey string) (*models.IncomeSource, error) {
	for _, s := range f.sources {
		if s.SourceKey == sourceKey && s.IsActive {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetSourceBySourceKey(sourceKey string) (*models.IncomeSource, error) {
	for _, s := range f.sources {
		if s.SourceKey == sourceKey {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetSourceByID(id uint) (*models.IncomeSource, error) {
	if s, ok := f.sources[id]; ok {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) CreateSource(source *models.IncomeSource) error {
	source.ID = uint(len(f.sources) + 1)
	f.sources[source.ID] = source
	return nil
}

func (f *fakeRepository) IncrementSourceStats(sourceID uint, receivedAt time.Time) error {
	f.statsCalls[sourceID]++
	if s, ok := f.sources[sourceID]; ok {
		s.TotalReceived++
		s.LastReceivedAt = &receivedAt
	}
	return nil
}

func (f *fakeRepository) FindWebhookBySourceAndTxnID(sourceID uint, txnID string) (*models.IncomeWebhook, error) {
	for _, w := range f.webhooks {
		if w.SourceID == sourceID && w.ExternalTransactionID != nil && *w.ExternalTransactionID == txnID {
			return w, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) CreateWebhookIfNotExists(webhook *models.IncomeWebhook) (bool, *models.IncomeWebhook, error) {
	if webhook.ExternalTransactionID != nil {
		if existing, err := f.FindWebhookBySourceAndTxnID(webhook.SourceID, *webhook.ExternalTransactionID); err == nil {
			return false, existing, nil
		}
	}
	f.nextWebhookID++
	webhook.ID = f.nextWebhookID
	f.webhooks = append(f.webhooks, webhook)
	return true, webhook, nil
}

func (f *fakeRepository) GetWebhookByID(id uint) (*models.IncomeWebhook, error) {
	for _, w := range f.webhooks {
		if w.ID == id {
			return w, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) SaveWebhook(webhook *models.IncomeWebhook) error {
	for i, w := range f.webhooks {
		if w.ID == webhook.ID {
			f.webhooks[i] = webhook
			return nil
		}
	}
	f.webhooks = append(f.webhooks, webhook)
	return nil
}

func (f *fakeRepository) CreateLedgerPair(item *models.PaymentItem, record *models.PaymentRecord) error {
	if f.ledgerErr != nil {
		return f.ledgerErr
	}
	f.nextItemID++
	item.ID = f.nextItemID
	f.items = append(f.items, item)
	f.nextRecordID++
	record.ID = f.nextRecordID
	record.ItemID = item.ID
	f.records = append(f.records, record)
	return nil
}

func tokenSource(repo *fakeRepository) *models.IncomeSource {
	source := &models.IncomeSource{
		ID:              1,
		Name:            "線上商店",
		SourceKey:       "shop",
		AuthType:        models.AUTH_TYPE_TOKEN,
		APIToken:        "tok_secret",
		DefaultCurrency: "TWD",
		IsActive:        true,
	}
	_ = source.SetFieldMapping(map[string]string{
		FieldAmount:        "$.amount",
		FieldTransactionID: "$.txn",
		FieldDescription:   "$.memo",
		FieldPayerName:     "$.payer",
		FieldOrderID:       "$.order",
	})
	return repo.addSource(source)
}

func TestReceiveWebhookStoresPending(t *testing.T) {
	repo := newFakeRepository()
	source := tokenSource(repo)
	svc := NewService(repo)

	body := []byte(`{"amount":1500,"txn":"txn_001","memo":"訂金"}`)
	res := svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{TokenHeader: "tok_secret", RequestIP: "203.0.113.7"})
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.False(t, res.IsDuplicate)

	stored, err := repo.GetWebhookByID(res.WebhookID)
	require.NoError(t, err)
	assert.Equal(t, models.WEBHOOK_STATUS_PENDING, stored.Status)
	assert.NotEmpty(t, stored.UUID)
	assert.Equal(t, string(body), stored.RawPayload)
	require.NotNil(t, stored.ExternalTransactionID)
	assert.Equal(t, "txn_001", *stored.ExternalTransactionID)
	require.NotNil(t, stored.ParsedAmount)
	assert.True(t, stored.ParsedAmount.Equal(decimal.NewFromInt(1500)))
	require.NotNil(t, stored.ParsedAmountTWD, "TWD default currency fills the normalized column")
	assert.Equal(t, "TWD", stored.ParsedCurrency)
	assert.Equal(t, 1, repo.statsCalls[source.ID])
	assert.Equal(t, int64(1), source.TotalReceived)
}

func TestReceiveWebhookDuplicateIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	source := tokenSource(repo)
	svc := NewService(repo)

	body := []byte(`{"amount":1500,"txn":"txn_001"}`)
	meta := RequestMeta{TokenHeader: "tok_secret"}

	first := svc.ReceiveWebhook(context.Background(), source, body, meta)
	require.NoError(t, first.Err)

	second := svc.ReceiveWebhook(context.Background(), source, body, meta)
	require.NoError(t, second.Err)
	assert.True(t, second.Success)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.WebhookID, second.WebhookID, "duplicate reports the stored row's id")
	assert.Len(t, repo.webhooks, 1)
	assert.Equal(t, 1, repo.statsCalls[source.ID], "duplicates do not bump stats")
}

func TestReceiveWebhookAuth(t *testing.T) {
	repo := newFakeRepository()
	source := tokenSource(repo)
	svc := NewService(repo)
	body := []byte(`{"amount":1}`)

	res := svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{TokenHeader: "wrong"})
	assert.ErrorIs(t, res.Err, ErrAuthFailed)
	assert.Empty(t, repo.webhooks, "failed verification persists nothing")
	assert.Zero(t, repo.statsCalls[source.ID])

	// A token source with a configured credential rejects requests that omit
	// the header; otherwise per-source auth could be bypassed by leaving it
	// out.
	res = svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{})
	assert.ErrorIs(t, res.Err, ErrAuthFailed)
	assert.Empty(t, repo.webhooks)

	// Only a source without any configured credential accepts bare requests.
	source.APIToken = ""
	res = svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{})
	assert.NoError(t, res.Err)
}

func TestReceiveWebhookHMAC(t *testing.T) {
	repo := newFakeRepository()
	source := repo.addSource(&models.IncomeSource{
		ID:            2,
		Name:          "金流平台",
		SourceKey:     "psp",
		AuthType:      models.AUTH_TYPE_HMAC,
		WebhookSecret: "whsec_test",
		IsActive:      true,
	})
	svc := NewService(repo)
	body := []byte(`{"amount":900}`)

	res := svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{SignatureHeader: signBody(body, "whsec_test")})
	require.NoError(t, res.Err)
	stored, _ := repo.GetWebhookByID(res.WebhookID)
	assert.True(t, stored.SignatureValid)

	res = svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{SignatureHeader: "sha256=deadbeef"})
	assert.ErrorIs(t, res.Err, ErrAuthFailed)

	// An absent signature is just as much a failure as a wrong one.
	res = svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{})
	assert.ErrorIs(t, res.Err, ErrAuthFailed)

	// A valid bearer token cannot substitute for the signature an hmac
	// source requires; the token check simply does not apply here.
	res = svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{TokenHeader: "anything"})
	assert.ErrorIs(t, res.Err, ErrAuthFailed)
	res = svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{TokenHeader: "anything", SignatureHeader: "sha256=deadbeef"})
	assert.ErrorIs(t, res.Err, ErrAuthFailed)
}

func TestReceiveWebhookAuthBothIsPermissive(t *testing.T) {
	repo := newFakeRepository()
	source := repo.addSource(&models.IncomeSource{
		ID:            3,
		Name:          "混合來源",
		SourceKey:     "mixed",
		AuthType:      models.AUTH_TYPE_BOTH,
		APIToken:      "tok_secret",
		WebhookSecret: "whsec_test",
		IsActive:      true,
	})
	svc := NewService(repo)
	body := []byte(`{"amount":1}`)

	// Only the token supplied, and valid: accepted.
	res := svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{TokenHeader: "tok_secret"})
	assert.NoError(t, res.Err)

	// Only the signature supplied, and valid: accepted.
	res = svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{SignatureHeader: signBody(body, "whsec_test")})
	assert.NoError(t, res.Err)

	// Either credential supplied but wrong: rejected.
	res = svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{TokenHeader: "wrong"})
	assert.ErrorIs(t, res.Err, ErrAuthFailed)
	res = svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{TokenHeader: "tok_secret", SignatureHeader: "sha256=00"})
	assert.ErrorIs(t, res.Err, ErrAuthFailed)

	// The permissiveness covers omitting one of the two headers, never both.
	res = svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{})
	assert.ErrorIs(t, res.Err, ErrAuthFailed)
}

func TestReceiveWebhookIPAllowlist(t *testing.T) {
	repo := newFakeRepository()
	source := tokenSource(repo)
	require.NoError(t, source.SetAllowedIPs([]string{"203.0.113.7"}))
	svc := NewService(repo)
	body := []byte(`{"amount":1}`)

	res := svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{TokenHeader: "tok_secret", RequestIP: "192.0.2.1"})
	assert.ErrorIs(t, res.Err, ErrAuthFailed)

	res = svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{TokenHeader: "tok_secret", RequestIP: "203.0.113.7"})
	assert.NoError(t, res.Err)
}

func TestReceiveWebhookNonJSONBody(t *testing.T) {
	repo := newFakeRepository()
	source := tokenSource(repo)
	svc := NewService(repo)

	res := svc.ReceiveWebhook(context.Background(), source, []byte("amount=1500&txn=abc"), RequestMeta{TokenHeader: "tok_secret"})
	require.NoError(t, res.Err)

	stored, err := repo.GetWebhookByID(res.WebhookID)
	require.NoError(t, err)
	assert.Equal(t, models.WEBHOOK_STATUS_PENDING, stored.Status)
	assert.Equal(t, "amount=1500&txn=abc", stored.RawPayload, "raw evidence survives unparseable bodies")
	assert.Nil(t, stored.ParsedAmount)
	assert.Nil(t, stored.ExternalTransactionID)
}

func TestReceiveWebhookAutoConfirm(t *testing.T) {
	repo := newFakeRepository()
	source := tokenSource(repo)
	projectID := uint(7)
	source.AutoConfirm = true
	source.DefaultProjectID = &projectID
	svc := NewService(repo)

	body := []byte(`{"amount":2000,"txn":"txn_ac","memo":"月費","payer":"王小明","order":"ORD-9"}`)
	res := svc.ReceiveWebhook(context.Background(), source, body, RequestMeta{TokenHeader: "tok_secret"})
	require.NoError(t, res.Err)

	stored, err := repo.GetWebhookByID(res.WebhookID)
	require.NoError(t, err)
	assert.Equal(t, models.WEBHOOK_STATUS_CONFIRMED, stored.Status)
	require.NotNil(t, stored.LinkedItemID)
	require.NotNil(t, stored.LinkedRecordID)
	require.NotNil(t, stored.ProcessedAt)

	require.Len(t, repo.items, 1)
	item := repo.items[0]
	assert.Equal(t, "月費", item.Name)
	assert.Equal(t, models.ITEM_TYPE_INCOME, item.ItemType)
	assert.Equal(t, projectID, item.ProjectID)
	assert.True(t, item.TotalAmount.Equal(decimal.NewFromInt(2000)))
	assert.True(t, item.PaidAmount.Equal(item.TotalAmount), "webhook items book fully paid")
	assert.Equal(t, models.ITEM_STATUS_PAID, item.Status)
	assert.Equal(t, models.ITEM_SOURCE_WEBHOOK, item.Source)

	require.Len(t, repo.records, 1)
	record := repo.records[0]
	assert.Equal(t, item.ID, record.ItemID)
	assert.True(t, record.Amount.Equal(item.TotalAmount))
	assert.Equal(t, models.PAYMENT_METHOD_WEBHOOK, record.PaymentMethod)
	assert.Contains(t, record.Notes, "王小明")
	assert.Contains(t, record.Notes, "order:ORD-9")
	assert.Contains(t, record.Notes, "txn:txn_ac")
}

func TestReceiveWebhookAutoConfirmRequiresProjectAndAmount(t *testing.T) {
	repo := newFakeRepository()
	source := tokenSource(repo)
	source.AutoConfirm = true // no default project
	svc := NewService(repo)

	res := svc.ReceiveWebhook(context.Background(), source, []byte(`{"amount":100,"txn":"t1"}`), RequestMeta{TokenHeader: "tok_secret"})
	require.NoError(t, res.Err)
	stored, _ := repo.GetWebhookByID(res.WebhookID)
	assert.Equal(t, models.WEBHOOK_STATUS_PENDING, stored.Status, "no default project falls back to pending")

	projectID := uint(7)
	source.DefaultProjectID = &projectID
	res = svc.ReceiveWebhook(context.Background(), source, []byte(`{"txn":"t2"}`), RequestMeta{TokenHeader: "tok_secret"})
	require.NoError(t, res.Err)
	stored, _ = repo.GetWebhookByID(res.WebhookID)
	assert.Equal(t, models.WEBHOOK_STATUS_PENDING, stored.Status, "no parseable amount falls back to pending")
	assert.Empty(t, repo.items)
}

func TestReceiveWebhookAutoConfirmFailureParksPending(t *testing.T) {
	repo := newFakeRepository()
	source := tokenSource(repo)
	projectID := uint(7)
	source.AutoConfirm = true
	source.DefaultProjectID = &projectID
	repo.ledgerErr = errors.New("deadlock")
	svc := NewService(repo)

	res := svc.ReceiveWebhook(context.Background(), source, []byte(`{"amount":100,"txn":"t1"}`), RequestMeta{TokenHeader: "tok_secret"})
	require.NoError(t, res.Err, "the delivery itself still succeeds")
	assert.True(t, res.Success)

	stored, err := repo.GetWebhookByID(res.WebhookID)
	require.NoError(t, err)
	assert.Equal(t, models.WEBHOOK_STATUS_PENDING, stored.Status)
	assert.Contains(t, stored.ReviewNote, "auto-confirm failed")
	assert.Nil(t, stored.LinkedItemID)
	assert.Nil(t, stored.LinkedRecordID)
	assert.Equal(t, 1, repo.statsCalls[source.ID], "stats reflect receipt even when materialization fails")
}

func pendingWebhook(repo *fakeRepository, amount int64) *models.IncomeWebhook {
	amt := decimal.NewFromInt(amount)
	webhook := &models.IncomeWebhook{
		UUID:            "00000000-0000-0000-0000-000000000001",
		SourceID:        1,
		RawPayload:      "{}",
		ParsedAmount:    &amt,
		ParsedAmountTWD: &amt,
		ParsedCurrency:  "TWD",
		Status:          models.WEBHOOK_STATUS_PENDING,
	}
	_, stored, _ := repo.CreateWebhookIfNotExists(webhook)
	return stored
}

func TestConfirm(t *testing.T) {
	repo := newFakeRepository()
	tokenSource(repo)
	svc := NewService(repo)
	webhook := pendingWebhook(repo, 1500)

	reviewer := uint(9)
	outcome, err := svc.Confirm(context.Background(), webhook.ID, ConfirmInput{
		ProjectID:  3,
		ItemName:   "三月場租",
		ReviewNote: "checked against bank statement",
		ReviewerID: &reviewer,
	})
	require.NoError(t, err)
	assert.Equal(t, webhook.ID, outcome.WebhookID)
	assert.NotZero(t, outcome.PaymentItemID)
	assert.NotZero(t, outcome.PaymentRecordID)

	stored, _ := repo.GetWebhookByID(webhook.ID)
	assert.Equal(t, models.WEBHOOK_STATUS_CONFIRMED, stored.Status)
	assert.Equal(t, &reviewer, stored.ReviewedByUserID)
	assert.NotNil(t, stored.ReviewedAt)
	assert.Equal(t, "checked against bank statement", stored.ReviewNote)
	assert.Equal(t, &outcome.PaymentItemID, stored.LinkedItemID)
	assert.Equal(t, &outcome.PaymentRecordID, stored.LinkedRecordID)

	require.Len(t, repo.items, 1)
	assert.Equal(t, "三月場租", repo.items[0].Name)
	assert.Equal(t, uint(3), repo.items[0].ProjectID)

	// Confirming again is illegal.
	_, err = svc.Confirm(context.Background(), webhook.ID, ConfirmInput{ProjectID: 3})
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestConfirmRequiresAmountAndProject(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)

	webhook := pendingWebhook(repo, 0)
	webhook.ParsedAmount = nil
	webhook.ParsedAmountTWD = nil
	_, err := svc.Confirm(context.Background(), webhook.ID, ConfirmInput{ProjectID: 3})
	assert.ErrorIs(t, err, ErrAmountUnavailable)

	webhook2 := pendingWebhook(repo, 100)
	_, err = svc.Confirm(context.Background(), webhook2.ID, ConfirmInput{})
	assert.Error(t, err)

	_, err = svc.Confirm(context.Background(), 9999, ConfirmInput{ProjectID: 3})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectAndReprocess(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)
	webhook := pendingWebhook(repo, 500)

	// Reprocess on a pending row is illegal.
	_, err := svc.Reprocess(context.Background(), webhook.ID)
	assert.ErrorIs(t, err, ErrIllegalState)

	reviewer := uint(4)
	require.NoError(t, svc.Reject(context.Background(), webhook.ID, &reviewer, "test delivery"))
	stored, _ := repo.GetWebhookByID(webhook.ID)
	assert.Equal(t, models.WEBHOOK_STATUS_REJECTED, stored.Status)
	assert.Equal(t, "test delivery", stored.ReviewNote)

	// Rejecting a rejected row is illegal.
	assert.ErrorIs(t, svc.Reject(context.Background(), webhook.ID, &reviewer, "again"), ErrIllegalState)

	// Reprocess resets everything back to pending.
	outcome, err := svc.Reprocess(context.Background(), webhook.ID)
	require.NoError(t, err)
	assert.Nil(t, outcome.DetachedItemID, "rejected rows never had a ledger pair")

	stored, _ = repo.GetWebhookByID(webhook.ID)
	assert.Equal(t, models.WEBHOOK_STATUS_PENDING, stored.Status)
	assert.Nil(t, stored.ReviewedByUserID)
	assert.Nil(t, stored.ReviewedAt)
	assert.Empty(t, stored.ReviewNote)
}

func TestReprocessDetachesLedgerPair(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)
	webhook := pendingWebhook(repo, 800)

	outcome, err := svc.Confirm(context.Background(), webhook.ID, ConfirmInput{ProjectID: 3})
	require.NoError(t, err)

	reprocessed, err := svc.Reprocess(context.Background(), webhook.ID)
	require.NoError(t, err)
	require.NotNil(t, reprocessed.DetachedItemID)
	assert.Equal(t, outcome.PaymentItemID, *reprocessed.DetachedItemID)

	stored, _ := repo.GetWebhookByID(webhook.ID)
	assert.Nil(t, stored.LinkedItemID)
	assert.Nil(t, stored.LinkedRecordID)
	assert.Nil(t, stored.ProcessedAt)
	assert.Len(t, repo.items, 1, "the ledger pair itself is detached, not voided")
}

func TestBatchConfirm(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)

	w1 := pendingWebhook(repo, 100)
	w2 := pendingWebhook(repo, 200)
	w2.ParsedAmount = nil
	w2.ParsedAmountTWD = nil
	w3 := pendingWebhook(repo, 300)

	result := svc.BatchConfirm(context.Background(), []uint{w1.ID, w2.ID, 9999, w3.ID}, ConfirmInput{ProjectID: 3})
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Results, 4)

	assert.Equal(t, w1.ID, result.Results[0].WebhookID)
	assert.True(t, result.Results[0].Success)
	assert.NotNil(t, result.Results[0].ItemID)

	assert.Equal(t, w2.ID, result.Results[1].WebhookID)
	assert.False(t, result.Results[1].Success)
	assert.Contains(t, result.Results[1].Error, "amount")

	assert.Equal(t, uint(9999), result.Results[2].WebhookID)
	assert.False(t, result.Results[2].Success)

	assert.Equal(t, w3.ID, result.Results[3].WebhookID)
	assert.True(t, result.Results[3].Success, "one failure never aborts the batch")
}
