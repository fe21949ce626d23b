package assetos

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// eventLogSource identifies the bus as the CloudEvents source.
const eventLogSource = "assetos/bus"

// FileRecorder appends every bus publish to a file as one CloudEvents
// JSON object per line. Payloads that cannot be serialized are recorded
// with a placeholder so that a bad payload never breaks the publish path.
type FileRecorder struct {
	mu     sync.Mutex
	f      *os.File
	logger Logger
}

// NewFileRecorder opens (or creates) the event log file for appending.
func NewFileRecorder(path string, logger Logger) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	return &FileRecorder{f: f, logger: logger}, nil
}

// Record implements Recorder.
func (r *FileRecorder) Record(topic string, data any) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetType(topic)
	event.SetSource(eventLogSource)
	event.SetTime(time.Now())
	if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
		// Keep the record, drop the payload.
		_ = event.SetData(cloudevents.ApplicationJSON, map[string]any{
			"unserializable": fmt.Sprintf("%T", data),
		})
	}

	line, err := json.Marshal(event)
	if err != nil {
		r.logger.Debug("Failed to encode bus event", "topic", topic, "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.f.Write(append(line, '\n')); err != nil {
		r.logger.Debug("Failed to write bus event", "topic", topic, "error", err)
	}
}

// Close closes the underlying file.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}
	return nil
}
