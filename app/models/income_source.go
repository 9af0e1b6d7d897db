package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	AUTH_TYPE_TOKEN = "token"
	AUTH_TYPE_HMAC  = "hmac"
	AUTH_TYPE_BOTH  = "both"

	DEFAULT_CURRENCY = "TWD"
)

// IncomeSource is a registered ingestion endpoint. External systems push
// payment notifications to /income/webhook/{source_key}; each source carries
// its own credentials, field mapping and auto-confirm policy.
//
// The single auth modes are strict: a configured credential must always be
// presented. AuthType "both" is permissive on purpose: a header missing from
// the request is skipped as long as the other credential verifies, only a
// provided-but-wrong credential fails the delivery. Sources are never
// hard-deleted, IsActive=false retires them while keeping historical webhook
// rows attributable.
type IncomeSource struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Name              string     `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	SourceKey         string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"source_key" validate:"required,min=3,max=100"`
	AuthType          string     `gorm:"type:varchar(20);not null;default:'token'" json:"auth_type" validate:"oneof=token hmac both"`
	APIToken          string     `gorm:"type:varchar(255)" json:"-"`
	WebhookSecret     string     `gorm:"type:varchar(255)" json:"-"`
	FieldMapping      string     `gorm:"type:text" json:"field_mapping"`
	AutoConfirm       bool       `gorm:"default:false" json:"auto_confirm"`
	DefaultProjectID  *uint      `gorm:"default:null" json:"default_project_id"`
	DefaultCategoryID *uint      `gorm:"default:null" json:"default_category_id"`
	DefaultCurrency   string     `gorm:"type:varchar(10);not null;default:'TWD'" json:"default_currency" validate:"max=10"`
	AllowedIPs        string     `gorm:"type:text" json:"allowed_ips"`
	TotalReceived     int64      `gorm:"not null;default:0" json:"total_received"`
	LastReceivedAt    *time.Time `gorm:"type:timestamp;default:null" json:"last_received_at"`
	IsActive          bool       `gorm:"default:true;index" json:"is_active"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *IncomeSource) Validate() error {
	v := validator.New()

	return v.Struct(s)
}

// FieldMappingMap decodes the stored canonical-field -> dot-path mapping.
// An empty mapping is legal; sources evolve incrementally.
func (s *IncomeSource) FieldMappingMap() (map[string]string, error) {
	raw := strings.TrimSpace(s.FieldMapping)
	if raw == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *IncomeSource) SetFieldMapping(m map[string]string) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	s.FieldMapping = string(b)
	return nil
}

// AllowedIPList decodes the stored allowlist. An empty list means any caller
// IP is accepted; that is a deliberate trade-off for senders without static
// egress addresses.
func (s *IncomeSource) AllowedIPList() []string {
	raw := strings.TrimSpace(s.AllowedIPs)
	if raw == "" {
		return nil
	}
	var ips []string
	if err := json.Unmarshal([]byte(raw), &ips); err != nil {
		return nil
	}
	return ips
}

func (s *IncomeSource) SetAllowedIPs(ips []string) error {
	if len(ips) == 0 {
		s.AllowedIPs = ""
		return nil
	}
	b, err := json.Marshal(ips)
	if err != nil {
		return err
	}
	s.AllowedIPs = string(b)
	return nil
}

// MaskedAPIToken returns nil when no token is set, otherwise "****" plus the
// last four characters. Full secrets never leave the server on reads.
func (s *IncomeSource) MaskedAPIToken() *string {
	return maskSecret(s.APIToken)
}

func (s *IncomeSource) MaskedWebhookSecret() *string {
	return maskSecret(s.WebhookSecret)
}

func maskSecret(secret string) *string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	tail := secret
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	masked := "****" + tail
	return &masked
}
