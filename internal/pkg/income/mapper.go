package income

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical field names a source mapping may bind to dot-paths.
const (
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
	FieldTransactionID = "transactionId"
	FieldPaidAt        = "paidAt"
	FieldDescription   = "description"
	FieldPayerName     = "payerName"
	FieldPayerContact  = "payerContact"
	FieldOrderID       = "orderId"
)

// ParsedPayload is the canonical projection extracted from an arbitrary
// webhook body. Every field is optional; a partial mapping simply leaves the
// unmapped fields zero.
type ParsedPayload struct {
	Amount        *decimal.Decimal
	Currency      string
	TransactionID string
	PaidAt        *time.Time
	Description   string
	PayerName     string
	PayerContact  string
	OrderID       string
}

var paidAtLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// ResolvePath walks payload along a dot-path such as "$.data.amount".
// Only literal object keys are supported, no array indices or wildcards.
// Missing intermediate keys and explicit nulls report not-found instead of
// failing, so callers never have to recover from a panic.
func ResolvePath(payload map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" || payload == nil {
		return nil, false
	}

	var current any = payload
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := obj[key]
		if !ok || next == nil {
			return nil, false
		}
		current = next
	}
	return current, true
}

// MapPayload applies a canonical-field -> dot-path mapping to a parsed JSON
// payload. Unparsable amounts leave Amount nil (the engine refuses to
// materialize without one) and invalid dates are silently dropped.
func MapPayload(payload map[string]any, mapping map[string]string) ParsedPayload {
	var out ParsedPayload

	if v, ok := resolveField(payload, mapping, FieldAmount); ok {
		if amt, err := coerceDecimal(v); err == nil {
			out.Amount = &amt
		}
	}
	if v, ok := resolveField(payload, mapping, FieldCurrency); ok {
		out.Currency = strings.ToUpper(coerceString(v))
	}
	if v, ok := resolveField(payload, mapping, FieldTransactionID); ok {
		out.TransactionID = coerceString(v)
	}
	if v, ok := resolveField(payload, mapping, FieldPaidAt); ok {
		if t, ok := coerceTime(v); ok {
			out.PaidAt = &t
		}
	}
	if v, ok := resolveField(payload, mapping, FieldDescription); ok {
		out.Description = coerceString(v)
	}
	if v, ok := resolveField(payload, mapping, FieldPayerName); ok {
		out.PayerName = coerceString(v)
	}
	if v, ok := resolveField(payload, mapping, FieldPayerContact); ok {
		out.PayerContact = coerceString(v)
	}
	if v, ok := resolveField(payload, mapping, FieldOrderID); ok {
		out.OrderID = coerceString(v)
	}
	return out
}

func resolveField(payload map[string]any, mapping map[string]string, field string) (any, bool) {
	path, ok := mapping[field]
	if !ok || strings.TrimSpace(path) == "" {
		return nil, false
	}
	return ResolvePath(payload, path)
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		// encoding/json decodes all numbers as float64.
		d := decimal.NewFromFloat(t)
		return d.String()
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

func coerceDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	default:
		return decimal.NewFromString(fmt.Sprintf("%v", t))
	}
}

func coerceTime(v any) (time.Time, bool) {
	s := coerceString(v)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range paidAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
