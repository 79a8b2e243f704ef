package billing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("EG_ADMIN_KEY", "k")
	t.Setenv("EG_BASE_URL", "https://app.example.com")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_x")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EG_DATA_DIR", "")
	t.Setenv("EG_PORT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
	assert.Equal(t, int64(90), cfg.MonitorThresholdPct)
	assert.False(t, cfg.PublicMetrics)
	assert.Equal(t, "/data/billing", cfg.BillingDir())
}

func TestLoadConfigMissingRequired(t *testing.T) {
	t.Setenv("EG_ADMIN_KEY", "")
	t.Setenv("EG_BASE_URL", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	for _, name := range []string{"EG_ADMIN_KEY", "EG_BASE_URL", "STRIPE_WEBHOOK_SECRET"} {
		assert.True(t, strings.Contains(err.Error(), name), "error should name %s: %v", name, err)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	setRequiredEnv(t)

	t.Setenv("EG_PORT", "70000")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("EG_PORT", "8443")
	t.Setenv("EG_USAGE_THRESHOLD_PCT", "150")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("EG_USAGE_THRESHOLD_PCT", "90")
	t.Setenv("EG_BASE_URL", "ftp://example.com")
	_, err = LoadConfig()
	assert.Error(t, err)
}
