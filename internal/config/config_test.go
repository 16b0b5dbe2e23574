package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("WEBHOOK_VERIFY_MODE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "none", cfg.WebhookVerifyMode)
	assert.Equal(t, 15*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, "10", cfg.PayPalPayoutPercentFee.String())
	assert.Equal(t, "https://api-m.sandbox.paypal.com/", cfg.PayPalURL)
	assert.NotEmpty(t, cfg.JWTSecret, "development falls back to a local secret")
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_HMACModeRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("WEBHOOK_VERIFY_MODE", "hmac")
	t.Setenv("WEBHOOK_SECRET", "")

	_, err := Load()
	require.ErrorContains(t, err, "WEBHOOK_SECRET")

	t.Setenv("WEBHOOK_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "hmac", cfg.WebhookVerifyMode)
}

func TestLoad_BadValues(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("WEBHOOK_VERIFY_MODE", "")
	t.Setenv("GATEWAY_TIMEOUT", "soon")
	t.Setenv("MAX_WITHDRAWAL_AMOUNT", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "GATEWAY_TIMEOUT")
	assert.ErrorContains(t, err, "MAX_WITHDRAWAL_AMOUNT")
}

func TestLoad_PayPalURLGetsTrailingSlash(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("WEBHOOK_VERIFY_MODE", "")
	t.Setenv("PAYPAL_URL", "https://api-m.paypal.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api-m.paypal.com/", cfg.PayPalURL)
}
