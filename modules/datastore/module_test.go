package datastore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlascmd/assetos"
)

func newTestStore(t *testing.T, section map[string]any) (*Store, *assetos.Bus) {
	t.Helper()
	bus := assetos.NewBus(assetos.NopLogger{})
	cfg := &assetos.Config{Modules: map[string]map[string]any{ModuleName: section}}
	mod, err := New(bus, cfg, assetos.NopLogger{})
	require.NoError(t, err)
	store := mod.(*Store)
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(func() { _ = store.Stop(context.Background()) })
	return store, bus
}

func capture(bus *assetos.Bus, topic string) *[]map[string]any {
	var events []map[string]any
	bus.Subscribe(topic, func(data any) {
		if payload, ok := data.(map[string]any); ok {
			events = append(events, payload)
		}
	})
	return &events
}

func TestPutPublishesUpdate(t *testing.T) {
	_, bus := newTestStore(t, nil)
	updates := capture(bus, TopicUpdated)

	bus.Publish(TopicPut, map[string]any{
		"namespace": "tracks",
		"key":       "t1",
		"value":     map[string]any{"latitude": 51.5},
		"meta":      map[string]any{"source": "radar"},
	})

	require.Len(t, *updates, 1)
	event := (*updates)[0]
	assert.Equal(t, "tracks", event["namespace"])
	assert.Equal(t, "t1", event["key"])
	record := event["record"].(Record)
	assert.Equal(t, map[string]any{"latitude": 51.5}, record.Value)
	assert.Equal(t, "radar", record.Meta["source"])
	assert.False(t, record.UpdatedAt.IsZero())
}

func TestPutWithoutKeyIgnored(t *testing.T) {
	store, bus := newTestStore(t, nil)
	updates := capture(bus, TopicUpdated)

	bus.Publish(TopicPut, map[string]any{"namespace": "tracks", "value": 1})
	bus.Publish(TopicPut, "not a map")

	assert.Empty(t, *updates)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.data)
}

func TestGetRespondsWithRecordAndRequestID(t *testing.T) {
	_, bus := newTestStore(t, nil)
	responses := capture(bus, TopicResponse)
	bus.Publish(TopicPut, map[string]any{"key": "k1", "value": "v1"})

	bus.Publish(TopicGet, map[string]any{"key": "k1", "request_id": "get-1"})
	bus.Publish(TopicGet, map[string]any{"key": "missing", "request_id": "get-2"})

	require.Len(t, *responses, 2)
	hit := (*responses)[0]
	assert.Equal(t, "get-1", hit["request_id"])
	assert.Equal(t, "default", hit["namespace"])
	assert.Equal(t, "v1", hit["record"].(Record).Value)
	miss := (*responses)[1]
	assert.Equal(t, "get-2", miss["request_id"])
	assert.Nil(t, miss["record"])
}

func TestDeletePublishesRemovedRecord(t *testing.T) {
	store, bus := newTestStore(t, nil)
	deletions := capture(bus, TopicDeleted)
	bus.Publish(TopicPut, map[string]any{"key": "k1", "value": "v1"})

	bus.Publish(TopicDelete, map[string]any{"key": "k1"})
	bus.Publish(TopicDelete, map[string]any{"key": "k1"})

	require.Len(t, *deletions, 2)
	assert.Equal(t, "v1", (*deletions)[0]["record"].(Record).Value)
	assert.Nil(t, (*deletions)[1]["record"])
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.data["default"])
}

func TestListReturnsNamespaceKeys(t *testing.T) {
	_, bus := newTestStore(t, nil)
	responses := capture(bus, TopicResponse)
	bus.Publish(TopicPut, map[string]any{"namespace": "tracks", "key": "t1", "value": 1})
	bus.Publish(TopicPut, map[string]any{"namespace": "tracks", "key": "t2", "value": 2})
	bus.Publish(TopicPut, map[string]any{"namespace": "other", "key": "o1", "value": 3})

	bus.Publish(TopicList, map[string]any{"namespace": "tracks", "request_id": "list-1"})

	require.Len(t, *responses, 1)
	resp := (*responses)[0]
	assert.Equal(t, "list-1", resp["request_id"])
	assert.ElementsMatch(t, []string{"t1", "t2"}, resp["keys"])
}

func TestSnapshotSingleNamespace(t *testing.T) {
	_, bus := newTestStore(t, nil)
	snapshots := capture(bus, TopicSnapshot)
	bus.Publish(TopicPut, map[string]any{"namespace": "tracks", "key": "t1", "value": map[string]any{"latitude": 51.5}})
	bus.Publish(TopicPut, map[string]any{"namespace": "other", "key": "o1", "value": 3})

	bus.Publish(TopicSnapshotRequest, map[string]any{"namespace": "tracks", "request_id": "snap-1"})

	require.Len(t, *snapshots, 1)
	payload := (*snapshots)[0]
	assert.Equal(t, "snap-1", payload["request_id"])
	snapshot := payload["snapshot"].(map[string]any)
	require.Contains(t, snapshot, "tracks")
	assert.NotContains(t, snapshot, "other")
	record := snapshot["tracks"].(map[string]any)["t1"].(map[string]any)
	assert.Equal(t, map[string]any{"latitude": 51.5}, record["value"])
}

func TestSnapshotWholeStoreAndIsolation(t *testing.T) {
	store, bus := newTestStore(t, nil)
	snapshots := capture(bus, TopicSnapshot)
	bus.Publish(TopicPut, map[string]any{"namespace": "tracks", "key": "t1", "value": 1})
	bus.Publish(TopicPut, map[string]any{"namespace": "other", "key": "o1", "value": 2})

	bus.Publish(TopicSnapshotRequest, map[string]any{})

	require.Len(t, *snapshots, 1)
	snapshot := (*snapshots)[0]["snapshot"].(map[string]any)
	assert.Contains(t, snapshot, "tracks")
	assert.Contains(t, snapshot, "other")

	// Snapshots are copies; mutating one must not touch the store.
	snapshot["tracks"].(map[string]any)["t1"] = nil
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.data["tracks"]["t1"].Value)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "store.json")
	section := map[string]any{
		"persistence": map[string]any{"enabled": true, "path": path},
	}

	store, bus := newTestStore(t, section)
	bus.Publish(TopicPut, map[string]any{"namespace": "tracks", "key": "t1", "value": "v1"})
	require.NoError(t, store.Stop(context.Background()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\"t1\"")

	reloaded, _ := newTestStore(t, section)
	reloaded.mu.Lock()
	defer reloaded.mu.Unlock()
	require.Contains(t, reloaded.data, "tracks")
	assert.Equal(t, "v1", reloaded.data["tracks"]["t1"].Value)
}

func TestPersistOnChangeWritesImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	_, bus := newTestStore(t, map[string]any{
		"persistence": map[string]any{"enabled": true, "path": path, "persist_on_change": true},
	})

	bus.Publish(TopicPut, map[string]any{"key": "k1", "value": "v1"})

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestPersistIntervalGating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, _ := newTestStore(t, map[string]any{
		"persistence": map[string]any{"enabled": true, "path": path, "interval_s": 30.0},
	})
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	store.now = func() time.Time { return now }

	store.persist(false)
	info1, err := os.Stat(path)
	require.NoError(t, err)

	// Within the interval nothing is written, even with new data.
	store.mu.Lock()
	store.data["tracks"] = map[string]Record{"t1": {Value: 1}}
	store.mu.Unlock()
	now = t0.Add(10 * time.Second)
	store.persist(false)
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.Size(), info2.Size())

	now = t0.Add(31 * time.Second)
	store.persist(false)
	info3, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info3.Size(), info2.Size())
}

func TestCorruptPersistedFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, _ := newTestStore(t, map[string]any{
		"persistence": map[string]any{"enabled": true, "path": path},
	})

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.data)
}

func TestHealthCheckCountsRecords(t *testing.T) {
	store, bus := newTestStore(t, nil)
	bus.Publish(TopicPut, map[string]any{"namespace": "tracks", "key": "t1", "value": 1})
	bus.Publish(TopicPut, map[string]any{"namespace": "other", "key": "o1", "value": 2})

	report := store.HealthCheck(context.Background())

	assert.True(t, report.Healthy)
	assert.Equal(t, assetos.StatusRunning, report.Status)
	assert.Equal(t, 2, report.Details["namespaces"])
	assert.Equal(t, 2, report.Details["total_records"])
	assert.Equal(t, false, report.Details["persistence_enabled"])
}
