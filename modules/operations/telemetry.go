package operations

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/atlascmd/assetos/modules/comms"
)

// trackMark records the last position broadcast for a track.
type trackMark struct {
	lat float64
	lon float64
	ts  time.Time
}

// handleSnapshot consumes a datastore snapshot requested by the worker
// loop, forwards locally observed tracks upstream as telemetry, and
// republishes the snapshot for other consumers. Snapshots from other
// requesters are ignored.
func (m *Manager) handleSnapshot(data any) {
	payload, ok := data.(map[string]any)
	if !ok {
		return
	}
	requestID, _ := payload["request_id"].(string)
	m.stateMu.Lock()
	expected := m.lastSyncRequestID
	m.stateMu.Unlock()
	if expected != "" && requestID != expected {
		return
	}
	snapshot, ok := payload["snapshot"].(map[string]any)
	if !ok {
		return
	}
	m.syncTracks(snapshot)
	m.bus.Publish(TopicDataStoreSync, map[string]any{
		"snapshot":   snapshot,
		"request_id": requestID,
		"timestamp":  m.now(),
	})
}

func (m *Manager) syncTracks(snapshot map[string]any) {
	tracks, ok := snapshot[m.cfg.TrackNamespace].(map[string]any)
	if !ok {
		return
	}
	for trackID, raw := range tracks {
		record, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		value, ok := record["value"].(map[string]any)
		if !ok {
			continue
		}
		lat, latOK := toFloat(value["latitude"])
		lon, lonOK := toFloat(value["longitude"])
		if !latOK || !lonOK {
			continue
		}
		m.maybeBroadcastTrack(trackID, value, lat, lon)
	}
}

// maybeBroadcastTrack forwards a track position upstream unless it was
// reported recently and has not moved far enough since.
func (m *Manager) maybeBroadcastTrack(trackID string, value map[string]any, lat, lon float64) {
	now := m.now()
	m.trackMu.Lock()
	if last, ok := m.trackLastSent[trackID]; ok {
		if now.Sub(last.ts) < seconds(m.cfg.TrackUpdateMinSeconds) {
			m.trackMu.Unlock()
			return
		}
		if haversineMeters(lat, lon, last.lat, last.lon) < m.cfg.TrackUpdateMinDistanceM {
			m.trackMu.Unlock()
			return
		}
	}
	m.trackLastSent[trackID] = trackMark{lat: lat, lon: lon, ts: now}
	m.trackMu.Unlock()

	args := map[string]any{"entity_id": trackID, "latitude": lat, "longitude": lon}
	for _, key := range []string{"altitude_m", "speed_m_s", "heading_deg"} {
		if v, ok := value[key]; ok && v != nil {
			args[key] = v
		}
	}
	m.bus.Publish(comms.TopicRequest, comms.Request{
		Function:  "update_telemetry",
		Args:      args,
		RequestID: "track-" + trackID + "-" + uuid.NewString(),
	})
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

const earthRadiusMeters = 6371000.0

// haversineMeters is the great-circle distance between two coordinates.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180.0
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
