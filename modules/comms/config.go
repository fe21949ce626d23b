package comms

import "time"

// Config holds the comms module's configuration section.
type Config struct {
	// Simulated replaces the radio bridge with an in-process simulator.
	Simulated bool `yaml:"simulated"`

	// GatewayNodeID is the mesh node relaying traffic to the command
	// service.
	GatewayNodeID string `yaml:"gateway_node_id"`

	// RadioPort is the serial port of the mesh radio; empty or "auto"
	// lets the bridge autodetect.
	RadioPort string `yaml:"radio_port"`

	// Mode selects the radio bridge operating profile.
	Mode string `yaml:"mode"`

	// SpoolPath is where the radio bridge spools undelivered messages.
	SpoolPath string `yaml:"spool_path"`

	// EnabledMethods is the operator-allowed subset of transport methods.
	// Empty means all methods in the priority list are allowed.
	EnabledMethods []string `yaml:"enabled_methods"`

	// PriorityMethods is the operator preference order. When empty the
	// priority file (or the built-in default) is used instead.
	PriorityMethods []string `yaml:"priority_methods"`

	// PriorityFile points at a JSON file holding the priority list. The
	// file is watched; edits take effect at the next reconnection or
	// promotion.
	PriorityFile string `yaml:"priority_file"`

	// Wifi configures the network transport.
	Wifi WifiConfig `yaml:"wifi"`

	WifiCheckIntervalS   float64 `yaml:"wifi_check_interval_s"`
	PromotionIntervalS   float64 `yaml:"promotion_interval_s"`
	MaxReconnectDelayS   float64 `yaml:"max_reconnect_delay_s"`
	MaxConsecutiveErrors int     `yaml:"max_consecutive_errors"`
	ReceiveTimeoutS      float64 `yaml:"receive_timeout_s"`
	RequestTimeoutS      float64 `yaml:"request_timeout_s"`
}

// WifiConfig identifies the network interface and SSID used by the wifi
// transport. Associating the interface is owned by the embedder's
// Associator, not by this module.
type WifiConfig struct {
	Interface string `yaml:"interface"`
	SSID      string `yaml:"ssid"`
}

func (c *Config) applyDefaults() {
	if c.GatewayNodeID == "" {
		c.GatewayNodeID = "gateway"
	}
	if c.Mode == "" {
		c.Mode = "general"
	}
	if c.WifiCheckIntervalS <= 0 {
		c.WifiCheckIntervalS = 5.0
	}
	if c.PromotionIntervalS <= 0 {
		c.PromotionIntervalS = 15.0
	}
	if c.MaxReconnectDelayS <= 0 {
		c.MaxReconnectDelayS = 30.0
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.ReceiveTimeoutS <= 0 {
		c.ReceiveTimeoutS = 0.5
	}
	if c.RequestTimeoutS <= 0 {
		c.RequestTimeoutS = 30.0
	}
}

func (c *Config) wifiCheckInterval() time.Duration {
	return time.Duration(c.WifiCheckIntervalS * float64(time.Second))
}

func (c *Config) promotionInterval() time.Duration {
	return time.Duration(c.PromotionIntervalS * float64(time.Second))
}

func (c *Config) maxReconnectDelay() time.Duration {
	return time.Duration(c.MaxReconnectDelayS * float64(time.Second))
}

func (c *Config) receiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutS * float64(time.Second))
}

func (c *Config) requestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutS * float64(time.Second))
}
