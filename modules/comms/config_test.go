package comms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	assert.Equal(t, "gateway", cfg.GatewayNodeID)
	assert.Equal(t, "general", cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.wifiCheckInterval())
	assert.Equal(t, 15*time.Second, cfg.promotionInterval())
	assert.Equal(t, 30*time.Second, cfg.maxReconnectDelay())
	assert.Equal(t, 5, cfg.MaxConsecutiveErrors)
	assert.Equal(t, 500*time.Millisecond, cfg.receiveTimeout())
	assert.Equal(t, 30*time.Second, cfg.requestTimeout())
}

func TestConfigDefaultsDoNotOverrideExplicitValues(t *testing.T) {
	cfg := Config{
		GatewayNodeID:        "gw-7",
		WifiCheckIntervalS:   1.0,
		MaxConsecutiveErrors: 2,
	}
	cfg.applyDefaults()

	assert.Equal(t, "gw-7", cfg.GatewayNodeID)
	assert.Equal(t, time.Second, cfg.wifiCheckInterval())
	assert.Equal(t, 2, cfg.MaxConsecutiveErrors)
}
