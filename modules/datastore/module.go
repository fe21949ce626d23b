// Package datastore provides a namespaced in-memory key-value store
// addressed entirely over the bus, with optional JSON file persistence.
// Other modules use it as a shared scratchpad for telemetry and state
// that must survive restarts.
package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlascmd/assetos"
)

// ModuleName is the registry name; the configuration section uses the
// same key.
const ModuleName = "data_store"

// Bus topics owned by the datastore module.
const (
	TopicPut             = "data_store.put"
	TopicGet             = "data_store.get"
	TopicDelete          = "data_store.delete"
	TopicList            = "data_store.list"
	TopicSnapshotRequest = "data_store.snapshot.request"

	TopicUpdated  = "data_store.updated"
	TopicDeleted  = "data_store.deleted"
	TopicResponse = "data_store.response"
	TopicSnapshot = "data_store.snapshot"
)

// Record is a stored value with metadata.
type Record struct {
	Value     any            `json:"value"`
	Meta      map[string]any `json:"meta"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store is the datastore module.
type Store struct {
	bus    *assetos.Bus
	logger assetos.Logger
	cfg    Config

	mu    sync.Mutex
	data  map[string]map[string]Record
	dirty bool

	lastPersist time.Time

	running atomic.Bool
	subs    []*assetos.Subscription

	now func() time.Time
}

// New builds a datastore from the "data_store" configuration section.
func New(bus *assetos.Bus, cfg *assetos.Config, logger assetos.Logger) (assetos.Module, error) {
	mcfg := Config{}
	if err := cfg.DecodeModuleSection(ModuleName, &mcfg); err != nil {
		return nil, fmt.Errorf("data_store: decode config: %w", err)
	}
	mcfg.applyDefaults()
	return &Store{
		bus:    bus,
		logger: logger,
		cfg:    mcfg,
		data:   make(map[string]map[string]Record),
		now:    time.Now,
	}, nil
}

func (s *Store) Name() string           { return ModuleName }
func (s *Store) Version() string        { return "1.0.0" }
func (s *Store) Dependencies() []string { return nil }

func (s *Store) Start(ctx context.Context) error {
	s.logger.Info("Starting Data Store Manager")
	s.running.Store(true)
	s.loadPersisted()

	s.subs = append(s.subs,
		s.bus.Subscribe(TopicPut, s.handlePut),
		s.bus.Subscribe(TopicGet, s.handleGet),
		s.bus.Subscribe(TopicDelete, s.handleDelete),
		s.bus.Subscribe(TopicList, s.handleList),
		s.bus.Subscribe(TopicSnapshotRequest, s.handleSnapshot),
	)
	return nil
}

func (s *Store) Stop(ctx context.Context) error {
	s.logger.Info("Stopping Data Store Manager")
	s.running.Store(false)
	for _, sub := range s.subs {
		s.bus.Unsubscribe(sub)
	}
	s.subs = nil
	s.persist(true)
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) assetos.HealthReport {
	s.mu.Lock()
	namespaces := len(s.data)
	records := 0
	for _, bucket := range s.data {
		records += len(bucket)
	}
	s.mu.Unlock()

	healthy := s.running.Load()
	status := assetos.StatusRunning
	if !healthy {
		status = assetos.StatusStopped
	}
	return assetos.HealthReport{
		Healthy: healthy,
		Status:  status,
		Details: map[string]any{
			"namespaces":          namespaces,
			"total_records":       records,
			"persistence_enabled": s.cfg.Persistence.Enabled,
		},
	}
}

func stringField(payload map[string]any, key, fallback string) string {
	if v, ok := payload[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (s *Store) handlePut(data any) {
	payload, ok := data.(map[string]any)
	if !ok {
		return
	}
	namespace := stringField(payload, "namespace", "default")
	key := stringField(payload, "key", "")
	if key == "" {
		return
	}
	meta, _ := payload["meta"].(map[string]any)
	record := Record{Value: payload["value"], Meta: meta, UpdatedAt: s.now()}

	s.mu.Lock()
	bucket, ok := s.data[namespace]
	if !ok {
		bucket = make(map[string]Record)
		s.data[namespace] = bucket
	}
	bucket[key] = record
	s.dirty = true
	s.mu.Unlock()

	s.bus.Publish(TopicUpdated, map[string]any{
		"namespace": namespace, "key": key, "record": record,
	})
	if s.cfg.Persistence.PersistOnChange {
		s.persist(true)
	}
}

func (s *Store) handleGet(data any) {
	payload, ok := data.(map[string]any)
	if !ok {
		return
	}
	namespace := stringField(payload, "namespace", "default")
	key := stringField(payload, "key", "")
	if key == "" {
		return
	}
	s.mu.Lock()
	record, found := s.data[namespace][key]
	s.mu.Unlock()

	response := map[string]any{
		"namespace":  namespace,
		"key":        key,
		"request_id": payload["request_id"],
	}
	if found {
		response["record"] = record
	} else {
		response["record"] = nil
	}
	s.bus.Publish(TopicResponse, response)
}

func (s *Store) handleDelete(data any) {
	payload, ok := data.(map[string]any)
	if !ok {
		return
	}
	namespace := stringField(payload, "namespace", "default")
	key := stringField(payload, "key", "")
	if key == "" {
		return
	}
	var removed any
	s.mu.Lock()
	if bucket, ok := s.data[namespace]; ok {
		if record, ok := bucket[key]; ok {
			removed = record
			delete(bucket, key)
			s.dirty = true
		}
	}
	s.mu.Unlock()

	s.bus.Publish(TopicDeleted, map[string]any{
		"namespace": namespace, "key": key, "record": removed,
	})
	if s.cfg.Persistence.PersistOnChange {
		s.persist(true)
	}
}

func (s *Store) handleList(data any) {
	payload, ok := data.(map[string]any)
	if !ok {
		return
	}
	namespace := stringField(payload, "namespace", "default")
	s.mu.Lock()
	keys := make([]string, 0, len(s.data[namespace]))
	for key := range s.data[namespace] {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	s.bus.Publish(TopicResponse, map[string]any{
		"namespace":  namespace,
		"keys":       keys,
		"request_id": payload["request_id"],
	})
}

// handleSnapshot publishes a copy of one namespace, or of the whole
// store when no namespace is given.
func (s *Store) handleSnapshot(data any) {
	payload, ok := data.(map[string]any)
	if !ok {
		return
	}
	namespace := stringField(payload, "namespace", "")

	snapshot := make(map[string]any)
	s.mu.Lock()
	if namespace != "" {
		snapshot[namespace] = copyBucket(s.data[namespace])
	} else {
		for name, bucket := range s.data {
			snapshot[name] = copyBucket(bucket)
		}
	}
	s.mu.Unlock()

	s.bus.Publish(TopicSnapshot, map[string]any{
		"snapshot":   snapshot,
		"request_id": payload["request_id"],
	})
}

func copyBucket(bucket map[string]Record) map[string]any {
	out := make(map[string]any, len(bucket))
	for key, record := range bucket {
		out[key] = map[string]any{
			"value":      record.Value,
			"meta":       record.Meta,
			"updated_at": record.UpdatedAt,
		}
	}
	return out
}

func (s *Store) loadPersisted() {
	p := s.cfg.Persistence
	if !p.Enabled || p.Path == "" {
		return
	}
	raw, err := os.ReadFile(p.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to load data store", "path", p.Path, "error", err)
		}
		return
	}
	loaded := make(map[string]map[string]Record)
	if err := json.Unmarshal(raw, &loaded); err != nil {
		s.logger.Warn("Failed to load data store", "path", p.Path, "error", err)
		return
	}
	s.mu.Lock()
	s.data = loaded
	s.mu.Unlock()
	s.logger.Info("Loaded data store", "path", p.Path)
}

// persist writes the store to disk. Unless forced, writes are gated to
// at most one per configured interval.
func (s *Store) persist(force bool) {
	p := s.cfg.Persistence
	if !p.Enabled || p.Path == "" {
		return
	}
	now := s.now()
	if !force && now.Sub(s.lastPersist) < time.Duration(p.IntervalS*float64(time.Second)) {
		return
	}
	s.lastPersist = now

	s.mu.Lock()
	raw, err := json.MarshalIndent(s.data, "", "  ")
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("Failed to persist data store", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		s.logger.Warn("Failed to persist data store", "path", p.Path, "error", err)
		return
	}
	if err := os.WriteFile(p.Path, raw, 0o644); err != nil {
		s.logger.Warn("Failed to persist data store", "path", p.Path, "error", err)
	}
}
