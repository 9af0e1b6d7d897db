package income

import "errors"

// Sentinel errors the controllers translate into HTTP statuses.
var (
	// ErrAuthFailed covers every verification failure (IP, token, HMAC).
	// It is deliberately generic so callers cannot learn which check failed.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotFound marks an unknown webhook or source id.
	ErrNotFound = errors.New("record not found")

	// ErrIllegalState marks a review transition that the current status
	// does not allow.
	ErrIllegalState = errors.New("illegal state transition")

	// ErrAmountUnavailable marks a confirm attempt on a webhook without a
	// parseable amount; the ledger entry has to be created manually instead.
	ErrAmountUnavailable = errors.New("cannot parse amount from webhook payload")
)

// RequestMeta carries transport-level facts about one delivery.
type RequestMeta struct {
	SignatureHeader string
	TokenHeader     string
	RequestIP       string
	RequestHeaders  map[string]string
}

// ReceiveResult is the ingestion engine's uniform outcome. Err is set only
// on verification failure; duplicates are a success with IsDuplicate=true
// and the id of the already-stored row.
type ReceiveResult struct {
	Success     bool
	WebhookID   uint
	IsDuplicate bool
	Err         error
}

// ConfirmInput names the materialization target for a manual confirm.
type ConfirmInput struct {
	ProjectID  uint
	CategoryID *uint
	ItemName   string
	ReviewNote string
	ReviewerID *uint
}

// ConfirmOutcome reports the ledger pair a successful confirm created.
type ConfirmOutcome struct {
	WebhookID       uint
	PaymentItemID   uint
	PaymentRecordID uint
}

// ReprocessOutcome reports a reset to pending. DetachedItemID is non-nil
// when the webhook had already been materialized: the ledger pair stays in
// place and must be cleaned up through the ledger's own CRUD.
type ReprocessOutcome struct {
	WebhookID      uint
	DetachedItemID *uint
}

// BatchItemResult is one entry of a batch confirm, in input order.
type BatchItemResult struct {
	WebhookID uint   `json:"webhook_id"`
	Success   bool   `json:"success"`
	ItemID    *uint  `json:"item_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchConfirmResult aggregates a batch confirm run.
type BatchConfirmResult struct {
	Results   []BatchItemResult `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}
