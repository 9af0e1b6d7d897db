package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncomeSourceValidate(t *testing.T) {
	source := IncomeSource{
		Name:            "線上商店",
		SourceKey:       "shop-main",
		AuthType:        AUTH_TYPE_TOKEN,
		DefaultCurrency: "TWD",
	}
	assert.NoError(t, source.Validate())

	source.AuthType = "password"
	assert.Error(t, source.Validate(), "auth_type is restricted to token/hmac/both")

	source.AuthType = AUTH_TYPE_HMAC
	source.SourceKey = "ab"
	assert.Error(t, source.Validate(), "source_key needs at least three characters")
}

func TestIncomeSourceFieldMapping(t *testing.T) {
	source := IncomeSource{}

	m, err := source.FieldMappingMap()
	require.NoError(t, err)
	assert.Empty(t, m, "an empty mapping is legal")

	require.NoError(t, source.SetFieldMapping(map[string]string{"amount": "$.data.amount"}))
	m, err = source.FieldMappingMap()
	require.NoError(t, err)
	assert.Equal(t, "$.data.amount", m["amount"])

	source.FieldMapping = "{not json"
	_, err = source.FieldMappingMap()
	assert.Error(t, err)
}

func TestIncomeSourceAllowedIPs(t *testing.T) {
	source := IncomeSource{}
	assert.Nil(t, source.AllowedIPList())

	require.NoError(t, source.SetAllowedIPs([]string{"203.0.113.7", "198.51.100.2"}))
	assert.Equal(t, []string{"203.0.113.7", "198.51.100.2"}, source.AllowedIPList())

	require.NoError(t, source.SetAllowedIPs(nil))
	assert.Nil(t, source.AllowedIPList())

	source.AllowedIPs = "not json"
	assert.Nil(t, source.AllowedIPList(), "garbage decodes to an open allowlist")
}

func TestMaskedSecrets(t *testing.T) {
	source := IncomeSource{}
	assert.Nil(t, source.MaskedAPIToken(), "unset secrets stay nil, not masked-empty")
	assert.Nil(t, source.MaskedWebhookSecret())

	source.APIToken = "tok_1234567890abcd"
	require.NotNil(t, source.MaskedAPIToken())
	assert.Equal(t, "****abcd", *source.MaskedAPIToken())

	source.WebhookSecret = "ab"
	require.NotNil(t, source.MaskedWebhookSecret())
	assert.Equal(t, "****ab", *source.MaskedWebhookSecret(), "short secrets keep everything after the mask")
}
