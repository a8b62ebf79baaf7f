package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "allow_negative", cfg.OverpaymentPolicy)
	assert.Equal(t, 3, cfg.ReconMaxAttempts)
}

func TestLoad_KafkaBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_BadPolicy(t *testing.T) {
	t.Setenv("OVERPAYMENT_POLICY", "clamp")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OVERPAYMENT_POLICY")
}

func TestLoad_BadAttempts(t *testing.T) {
	t.Setenv("RECON_MAX_ATTEMPTS", "many")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("RECON_MAX_ATTEMPTS", "0")
	_, err = Load()
	require.Error(t, err)
}
