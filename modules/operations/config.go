package operations

import "time"

// Config is the "operations" configuration section.
type Config struct {
	// HeartbeatIntervalS is the period of the local heartbeat beacon.
	HeartbeatIntervalS float64 `yaml:"heartbeat_interval_s"`

	// Check-in intervals by active comms method. An interval of zero or
	// below disables check-ins while that method is active.
	CheckinIntervalS     float64 `yaml:"checkin_interval_s"`
	CheckinIntervalWifiS float64 `yaml:"checkin_interval_wifi_s"`
	CheckinIntervalMeshS float64 `yaml:"checkin_interval_mesh_s"`

	// CheckinPayload carries position fields reported with every
	// check-in. Only known telemetry keys are forwarded.
	CheckinPayload map[string]any `yaml:"checkin_payload"`

	// Track broadcast settings. Tracks picked up from datastore
	// snapshots are forwarded upstream as telemetry, rate and distance
	// limited per track.
	TrackNamespace          string  `yaml:"track_namespace"`
	TrackUpdateMinDistanceM float64 `yaml:"track_update_min_distance_m"`
	TrackUpdateMinSeconds   float64 `yaml:"track_update_min_seconds"`

	// DataStoreSyncIntervalS is the period of datastore snapshot
	// requests. Zero or below disables the sync.
	DataStoreSyncIntervalS float64 `yaml:"data_store_sync_interval_s"`
}

// telemetryKeys are the check-in payload fields forwarded upstream.
var telemetryKeys = map[string]struct{}{
	"latitude":    {},
	"longitude":   {},
	"altitude_m":  {},
	"speed_m_s":   {},
	"heading_deg": {},
}

func (c *Config) applyDefaults() {
	if c.HeartbeatIntervalS == 0 {
		c.HeartbeatIntervalS = 30.0
	}
	if c.CheckinIntervalS == 0 {
		c.CheckinIntervalS = 30.0
	}
	if c.CheckinIntervalWifiS == 0 {
		c.CheckinIntervalWifiS = 1.0
	}
	if c.CheckinIntervalMeshS == 0 {
		c.CheckinIntervalMeshS = 15.0
	}
	if c.TrackNamespace == "" {
		c.TrackNamespace = "tracks"
	}
	if c.TrackUpdateMinDistanceM == 0 {
		c.TrackUpdateMinDistanceM = 25.0
	}
	if c.TrackUpdateMinSeconds == 0 {
		c.TrackUpdateMinSeconds = 5.0
	}
	if c.DataStoreSyncIntervalS == 0 {
		c.DataStoreSyncIntervalS = 1.0
	}
	filtered := make(map[string]any)
	for key, value := range c.CheckinPayload {
		if _, ok := telemetryKeys[key]; ok && value != nil {
			filtered[key] = value
		}
	}
	c.CheckinPayload = filtered
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (c *Config) heartbeatInterval() time.Duration { return seconds(c.HeartbeatIntervalS) }
