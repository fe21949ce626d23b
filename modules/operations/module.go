// Package operations routes inbound traffic off the comms transport,
// keeps the asset checked in with the remote command service, and
// dispatches tasks assigned by it to locally registered handlers.
package operations

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/atlascmd/assetos"
	"github.com/atlascmd/assetos/modules/comms"
)

// ModuleName is the registry and configuration section name.
const ModuleName = "operations"

// Manager is the operations module.
type Manager struct {
	bus    *assetos.Bus
	logger assetos.Logger
	cfg    Config
	atlas  assetos.AtlasConfig

	// Check-in and sync state, guarded by stateMu. Bus handlers run on
	// publisher goroutines and adjust cadence concurrently with the
	// worker loop.
	stateMu               sync.Mutex
	currentMethod         string
	checkinInterval       time.Duration
	lastHeartbeat         time.Time
	lastCheckin           time.Time
	lastSync              time.Time
	lastSyncRequestID     string
	registrationStarted   bool
	registrationComplete  bool
	checkinDisabledLogged bool
	checkinWaitingLogged  bool
	checkinPayloadLogged  bool

	// Task dispatch state, guarded by taskMu. See tasks.go.
	taskMu       sync.Mutex
	handlers     map[string]TaskHandler
	taskQueue    []queuedTask
	activeTask   bool
	knownTaskIDs map[string]struct{}

	// Track broadcast state, guarded by trackMu. See telemetry.go.
	trackMu       sync.Mutex
	trackLastSent map[string]trackMark

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	subs    []*assetos.Subscription

	now func() time.Time
}

// New builds an operations manager from the "operations" configuration
// section.
func New(bus *assetos.Bus, cfg *assetos.Config, logger assetos.Logger) (assetos.Module, error) {
	mcfg := Config{}
	if err := cfg.DecodeModuleSection(ModuleName, &mcfg); err != nil {
		return nil, fmt.Errorf("operations: decode config: %w", err)
	}
	mcfg.applyDefaults()
	return &Manager{
		bus:             bus,
		logger:          logger,
		cfg:             mcfg,
		atlas:           cfg.Atlas,
		checkinInterval: seconds(mcfg.CheckinIntervalS),
		handlers:        make(map[string]TaskHandler),
		knownTaskIDs:    make(map[string]struct{}),
		trackLastSent:   make(map[string]trackMark),
		now:             time.Now,
	}, nil
}

func (m *Manager) Name() string           { return ModuleName }
func (m *Manager) Version() string        { return "1.0.0" }
func (m *Manager) Dependencies() []string { return []string{comms.ModuleName} }

func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting Operations Manager")
	m.running.Store(true)

	m.subs = append(m.subs,
		m.bus.Subscribe(comms.TopicMessageReceived, m.handleCommsMessage),
		m.bus.Subscribe(comms.TopicMethodChanged, m.handleMethodChanged),
		m.bus.Subscribe(comms.TopicResponse, m.handleCommsResponse),
		m.bus.Subscribe("data_store.snapshot", m.handleSnapshot),
		m.bus.Subscribe(TopicCommandRegister, m.handleCommandRegister),
		m.bus.Subscribe(TopicCommandUnregister, m.handleCommandUnregister),
		m.bus.Subscribe(TopicSystemCheckRequest, m.handleSystemCheckRequest),
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(workerCtx)
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("Stopping Operations Manager")
	m.running.Store(false)
	if m.cancel != nil {
		m.cancel()
	}
	for _, sub := range m.subs {
		m.bus.Unsubscribe(sub)
	}
	m.subs = nil
	if m.done != nil {
		select {
		case <-m.done:
		case <-time.After(time.Second):
			m.logger.Warn("Operations worker did not stop in time")
		case <-ctx.Done():
		}
	}
	return nil
}

func (m *Manager) HealthCheck(ctx context.Context) assetos.HealthReport {
	m.stateMu.Lock()
	checkinInterval := m.checkinInterval
	registered := m.registrationComplete
	m.stateMu.Unlock()
	m.taskMu.Lock()
	active := m.activeTask
	queued := len(m.taskQueue)
	m.taskMu.Unlock()

	healthy := m.running.Load()
	status := assetos.StatusRunning
	if !healthy {
		status = assetos.StatusStopped
	}
	return assetos.HealthReport{
		Healthy: healthy,
		Status:  status,
		Details: map[string]any{
			"heartbeat_interval_s":  m.cfg.HeartbeatIntervalS,
			"checkin_interval_s":    checkinInterval.Seconds(),
			"registration_complete": registered,
			"active_task":           active,
			"queued_tasks":          queued,
		},
	}
}

// Worker loop. Each tick publishes the heartbeat, performs the periodic
// check-in, requests a datastore snapshot for telemetry sync, and
// dispatches at most one queued task.
func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for m.running.Load() {
		now := m.now()
		m.tickHeartbeat(now)
		m.tickCheckin(now)
		m.tickSnapshotSync(now)
		m.maybeDispatchTask()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) tickHeartbeat(now time.Time) {
	m.stateMu.Lock()
	due := now.Sub(m.lastHeartbeat) >= m.cfg.heartbeatInterval()
	if due {
		m.lastHeartbeat = now
	}
	m.stateMu.Unlock()
	if due {
		m.bus.Publish(TopicHeartbeat, Heartbeat{Status: "ok", Timestamp: now})
	}
}

// tickCheckin publishes a checkin_entity request when the active
// interval has elapsed. Check-ins require an asset id, completed
// registration and a configured position payload; each missing
// precondition is logged once.
func (m *Manager) tickCheckin(now time.Time) {
	m.stateMu.Lock()
	interval := m.checkinInterval
	if interval <= 0 || now.Sub(m.lastCheckin) < interval {
		m.stateMu.Unlock()
		return
	}
	entityID := m.atlas.Asset.ID
	switch {
	case entityID == "":
		if !m.checkinDisabledLogged {
			m.logger.Warn("Check-in disabled: missing atlas.asset.id in config")
			m.checkinDisabledLogged = true
		}
		m.stateMu.Unlock()
		return
	case !m.registrationComplete:
		if !m.checkinWaitingLogged {
			m.logger.Info("Check-in waiting for asset registration to complete")
			m.checkinWaitingLogged = true
		}
		m.stateMu.Unlock()
		return
	case len(m.cfg.CheckinPayload) == 0:
		if !m.checkinPayloadLogged {
			m.logger.Warn("Check-in disabled: operations.checkin_payload is empty")
			m.checkinPayloadLogged = true
		}
		m.stateMu.Unlock()
		return
	}
	m.lastCheckin = now
	m.stateMu.Unlock()

	args := map[string]any{
		"entity_id":     entityID,
		"status_filter": "pending,in_progress",
	}
	for key, value := range m.cfg.CheckinPayload {
		args[key] = value
	}
	m.bus.Publish(comms.TopicRequest, comms.Request{
		Function:  "checkin_entity",
		Args:      args,
		RequestID: "checkin-" + uuid.NewString(),
	})
}

func (m *Manager) tickSnapshotSync(now time.Time) {
	interval := seconds(m.cfg.DataStoreSyncIntervalS)
	if interval <= 0 {
		return
	}
	m.stateMu.Lock()
	if now.Sub(m.lastSync) < interval {
		m.stateMu.Unlock()
		return
	}
	m.lastSync = now
	requestID := "data-store-" + uuid.NewString()
	m.lastSyncRequestID = requestID
	m.stateMu.Unlock()

	m.bus.Publish("data_store.snapshot.request", map[string]any{
		"namespace":  m.cfg.TrackNamespace,
		"request_id": requestID,
	})
}

// handleCommsMessage routes an inbound message to the operations topic
// matching its type.
func (m *Manager) handleCommsMessage(data any) {
	msg, ok := data.(comms.ReceivedMessage)
	if !ok {
		m.logger.Warn("Invalid message structure received", "payload", data)
		return
	}
	routed := RoutedMessage{
		Sender:        msg.Sender,
		Command:       msg.Command,
		MessageID:     msg.MessageID,
		Data:          msg.Data,
		CorrelationID: msg.CorrelationID,
		Timestamp:     msg.Timestamp,
	}
	m.logger.Info("Received message via comms",
		"sender", msg.Sender, "type", msg.Type, "command", msg.Command, "id", msg.MessageID)
	switch msg.Type {
	case "request":
		m.bus.Publish(TopicCommandReceived, routed)
	case "response":
		m.bus.Publish(TopicDataReceived, routed)
	case "error":
		m.bus.Publish(TopicErrorReceived, routed)
	default:
		m.logger.Warn("Unknown message type received", "type", msg.Type)
		routed.Type = msg.Type
		m.bus.Publish(TopicMessageReceived, routed)
	}
}

// handleMethodChanged adjusts the check-in cadence to the active comms
// method and kicks off asset registration on the first transport.
func (m *Manager) handleMethodChanged(data any) {
	change, ok := data.(comms.MethodChange)
	if !ok || change.Method == "" {
		return
	}

	m.stateMu.Lock()
	if change.Method == m.currentMethod {
		m.stateMu.Unlock()
		return
	}
	m.currentMethod = change.Method
	switch change.Method {
	case comms.MethodWifi:
		m.checkinInterval = seconds(m.cfg.CheckinIntervalWifiS)
	case comms.MethodMesh:
		m.checkinInterval = seconds(m.cfg.CheckinIntervalMeshS)
	default:
		m.checkinInterval = seconds(m.cfg.CheckinIntervalS)
	}

	// Preserve cadence across the switch. Only when the new interval is
	// shorter and already exceeded does the next check-in fire
	// immediately.
	now := m.now()
	if m.checkinInterval < now.Sub(m.lastCheckin) {
		m.lastCheckin = now.Add(-m.checkinInterval)
	}
	interval := m.checkinInterval
	startRegistration := !m.registrationStarted
	if startRegistration {
		m.registrationStarted = true
	}
	m.stateMu.Unlock()

	m.logger.Info("Comms method set", "method", change.Method, "checkin_interval", interval)

	if startRegistration {
		go func() {
			complete := registerAsset(m.bus, m.atlas, m.logger)
			m.stateMu.Lock()
			m.registrationComplete = complete
			m.stateMu.Unlock()
		}()
	}
}

// handleCommsResponse harvests tasks assigned by the command service
// from successful check-in responses.
func (m *Manager) handleCommsResponse(data any) {
	resp, ok := data.(comms.Response)
	if !ok || resp.Function != "checkin_entity" || !resp.OK {
		return
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		return
	}
	tasks, ok := result["tasks"].([]any)
	if !ok {
		return
	}
	for _, raw := range tasks {
		if task, ok := raw.(map[string]any); ok {
			m.enqueueTask(task)
		}
	}
}

func (m *Manager) handleSystemCheckRequest(data any) {
	m.logger.Info("Forwarding system check request")
	m.bus.Publish(assetos.TopicSystemCheckRequest, data)
}
