package operations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackSnapshot(records map[string]any) map[string]any {
	return map[string]any{"tracks": records}
}

func trackRecord(lat, lon float64, extra map[string]any) map[string]any {
	value := map[string]any{"latitude": lat, "longitude": lon}
	for k, v := range extra {
		value[k] = v
	}
	return map[string]any{"value": value}
}

func TestSnapshotIgnoredForForeignRequestID(t *testing.T) {
	m, bus := newTestManager(t, nil)
	reqs := captureRequests(bus)
	synced := 0
	bus.Subscribe(TopicDataStoreSync, func(any) { synced++ })
	m.stateMu.Lock()
	m.lastSyncRequestID = "data-store-mine"
	m.stateMu.Unlock()

	m.handleSnapshot(map[string]any{
		"request_id": "data-store-other",
		"snapshot":   trackSnapshot(map[string]any{"t1": trackRecord(51.5, -0.1, nil)}),
	})

	assert.Zero(t, synced)
	assert.Empty(t, reqs.byFunction("update_telemetry"))
}

func TestSnapshotSyncBroadcastsTracks(t *testing.T) {
	m, bus := newTestManager(t, nil)
	reqs := captureRequests(bus)
	var synced []map[string]any
	bus.Subscribe(TopicDataStoreSync, func(d any) { synced = append(synced, d.(map[string]any)) })
	m.stateMu.Lock()
	m.lastSyncRequestID = "data-store-1"
	m.stateMu.Unlock()

	m.handleSnapshot(map[string]any{
		"request_id": "data-store-1",
		"snapshot": trackSnapshot(map[string]any{
			"t1": trackRecord(51.5, -0.1, map[string]any{"speed_m_s": 4.2, "heading_deg": nil}),
			"t2": map[string]any{"value": map[string]any{"name": "no position"}},
		}),
	})

	updates := reqs.byFunction("update_telemetry")
	require.Len(t, updates, 1)
	assert.Equal(t, "t1", updates[0].Args["entity_id"])
	assert.Equal(t, 51.5, updates[0].Args["latitude"])
	assert.Equal(t, 4.2, updates[0].Args["speed_m_s"])
	assert.NotContains(t, updates[0].Args, "heading_deg")
	assert.NotContains(t, updates[0].Args, "altitude_m")

	require.Len(t, synced, 1)
	assert.Equal(t, "data-store-1", synced[0]["request_id"])
}

func TestTrackBroadcastRateAndDistanceGated(t *testing.T) {
	m, bus := newTestManager(t, map[string]any{
		"track_update_min_seconds":    5.0,
		"track_update_min_distance_m": 25.0,
	})
	reqs := captureRequests(bus)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	m.now = func() time.Time { return now }

	m.maybeBroadcastTrack("t1", map[string]any{}, 51.5000, -0.1000)
	require.Len(t, reqs.byFunction("update_telemetry"), 1)

	// Too soon, even though the move is large.
	now = t0.Add(2 * time.Second)
	m.maybeBroadcastTrack("t1", map[string]any{}, 51.6000, -0.1000)
	assert.Len(t, reqs.byFunction("update_telemetry"), 1)

	// Old enough but barely moved (~1m).
	now = t0.Add(10 * time.Second)
	m.maybeBroadcastTrack("t1", map[string]any{}, 51.50001, -0.1000)
	assert.Len(t, reqs.byFunction("update_telemetry"), 1)

	// Old enough and far enough (~1km).
	m.maybeBroadcastTrack("t1", map[string]any{}, 51.5100, -0.1000)
	assert.Len(t, reqs.byFunction("update_telemetry"), 2)

	// A different track has its own gate.
	m.maybeBroadcastTrack("t2", map[string]any{}, 51.5000, -0.1000)
	assert.Len(t, reqs.byFunction("update_telemetry"), 3)
}

func TestHaversineMeters(t *testing.T) {
	assert.Zero(t, haversineMeters(51.5, -0.1, 51.5, -0.1))

	// One degree of latitude is roughly 111 km.
	d := haversineMeters(51.5, -0.1, 52.5, -0.1)
	assert.InDelta(t, 111000, d, 500)
}

func TestToFloat(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want float64
		ok   bool
	}{
		{51.5, 51.5, true},
		{float32(2), 2, true},
		{int(3), 3, true},
		{int64(4), 4, true},
		{"5", 0, false},
		{nil, 0, false},
	} {
		got, ok := toFloat(tc.in)
		assert.Equal(t, tc.ok, ok)
		assert.Equal(t, tc.want, got)
	}
}
