// Package comms maintains the asset's uplink to the Atlas platform. It
// holds exactly one active transport at a time, selected from a
// priority-ordered method sequence, and transparently falls back and
// recovers when the active transport dies. Consumers talk to it only
// through bus topics; they never see which transport served them.
package comms

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlascmd/assetos"
)

// ModuleName is the registry and configuration section name.
const ModuleName = "comms"

// Manager is the communications manager module. All transport state
// (client, sequence, indexes, retry counters) is owned by the worker
// goroutine; the small set of fields read from bus handlers and health
// checks is guarded by stateMu.
type Manager struct {
	bus    *assetos.Bus
	logger assetos.Logger
	cfg    Config
	atlas  assetos.AtlasConfig

	priority *priorityList

	// Dial seams. wifiDial and radioDial default to the real
	// constructors and are replaced in tests.
	wifiDial   func() (Client, error)
	radioDial  RadioDialer
	associator Associator

	// Worker-owned state.
	client             Client
	sequence           []string
	methodIndex        int
	fallbackStart      int
	reconnectAttempts  int
	lastWifiCheck      time.Time
	lastPromotionCheck time.Time
	processingRequest  bool

	// Shared state, guarded by stateMu.
	stateMu          sync.Mutex
	method           string
	connected        bool
	lastMethod       string
	lastStatusKey    *statusKey
	statusLastChange time.Time

	queueMu sync.Mutex
	queue   []Request

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	subs    []*assetos.Subscription

	now func() time.Time
}

// New builds a comms manager from the "comms" configuration section.
// The manager opens no transports and starts no goroutines until Start.
func New(bus *assetos.Bus, cfg *assetos.Config, logger assetos.Logger) (assetos.Module, error) {
	mcfg := Config{}
	if err := cfg.DecodeModuleSection(ModuleName, &mcfg); err != nil {
		return nil, fmt.Errorf("comms: decode config: %w", err)
	}
	mcfg.applyDefaults()

	var methods []string
	switch {
	case len(mcfg.PriorityMethods) > 0:
		methods = append(methods, mcfg.PriorityMethods...)
	case mcfg.PriorityFile != "":
		methods = loadPriorityFile(mcfg.PriorityFile, logger)
	default:
		methods = append(methods, defaultPriority...)
	}

	m := &Manager{
		bus:           bus,
		logger:        logger,
		cfg:           mcfg,
		atlas:         cfg.Atlas,
		priority:      newPriorityList(methods, logger),
		fallbackStart: -1,
		now:           time.Now,
	}
	m.wifiDial = m.dialWifi
	return m, nil
}

func (m *Manager) Name() string           { return ModuleName }
func (m *Manager) Version() string        { return "1.0.0" }
func (m *Manager) Dependencies() []string { return nil }

// SetRadioDialer installs the factory used to open the mesh radio
// transport. Without one, mesh is only available in simulated mode.
// Must be called before Start.
func (m *Manager) SetRadioDialer(dial RadioDialer) { m.radioDial = dial }

// SetAssociator installs the network association backend used by the
// wifi transport. Must be called before Start.
func (m *Manager) SetAssociator(a Associator) { m.associator = a }

// Start subscribes the manager to its bus topics, brings up the first
// available transport and launches the worker loop. A start with no
// reachable transport still succeeds; the worker keeps retrying in the
// background.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting Comms Manager", "methods", m.priority.Methods())
	m.running.Store(true)

	m.subs = append(m.subs,
		m.bus.Subscribe(TopicRequest, m.handleRequest),
		m.bus.Subscribe(TopicGetStatus, m.handleGetStatus),
		m.bus.Subscribe(assetos.TopicBootComplete, m.handleBootComplete),
	)

	if m.cfg.PriorityFile != "" && len(m.cfg.PriorityMethods) == 0 {
		m.priority.Watch(m.cfg.PriorityFile)
	}

	m.initTransport(0)
	m.publishStatus(true, "")

	workerCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(workerCtx)
	return nil
}

// Stop signals the worker, waits briefly for it to drain, and closes
// the active transport. The wait is bounded so a worker stuck in a
// network call cannot stall shutdown.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("Stopping Comms Manager")
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
			m.logger.Warn("Comms worker did not stop in time")
		case <-ctx.Done():
		}
	}
	m.priority.Stop()
	if m.client != nil {
		if err := m.client.Close(); err != nil {
			m.logger.Warn("Error closing comms client", "error", err)
		}
		m.client = nil
	}
	return nil
}

func (m *Manager) HealthCheck(ctx context.Context) assetos.HealthReport {
	m.stateMu.Lock()
	method := m.method
	connected := m.connected
	m.stateMu.Unlock()
	m.queueMu.Lock()
	depth := len(m.queue)
	m.queueMu.Unlock()

	healthy := m.running.Load()
	status := assetos.StatusRunning
	if !healthy {
		status = assetos.StatusStopped
	}
	return assetos.HealthReport{
		Healthy: healthy,
		Status:  status,
		Details: map[string]any{
			"method":          method,
			"connected":       connected,
			"queued_requests": depth,
			"simulated":       m.cfg.Simulated,
		},
	}
}

// Bus handlers. These run on the publisher's goroutine and must not
// touch worker-owned state.

func (m *Manager) handleRequest(data any) {
	req, ok := decodeRequest(data)
	if !ok {
		m.logger.Warn("Ignoring malformed comms request", "payload", data)
		return
	}
	m.queueMu.Lock()
	m.queue = append(m.queue, req)
	m.queueMu.Unlock()
}

func (m *Manager) handleGetStatus(data any) {
	requestID := ""
	if req, ok := decodeRequest(data); ok {
		requestID = req.RequestID
	}
	m.publishStatus(true, requestID)
}

func (m *Manager) handleBootComplete(data any) {
	m.publishMethodChange(true)
}

func decodeRequest(data any) (Request, bool) {
	switch v := data.(type) {
	case Request:
		return v, true
	case *Request:
		if v == nil {
			return Request{}, false
		}
		return *v, true
	case map[string]any:
		req := Request{}
		if fn, ok := v["function"].(string); ok {
			req.Function = fn
		}
		if args, ok := v["args"].(map[string]any); ok {
			req.Args = args
		}
		if id, ok := v["request_id"].(string); ok {
			req.RequestID = id
		}
		return req, true
	default:
		return Request{}, false
	}
}

// State accessors.

func (m *Manager) currentMethod() string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.method
}

func (m *Manager) isConnected() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.connected
}

func (m *Manager) setState(method string, connected bool) {
	m.stateMu.Lock()
	m.method = method
	m.connected = connected
	m.stateMu.Unlock()
}

func (m *Manager) dequeue() (Request, bool) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if len(m.queue) == 0 {
		return Request{}, false
	}
	req := m.queue[0]
	m.queue = m.queue[1:]
	return req, true
}

// Transport construction.

func (m *Manager) dialWifi() (Client, error) {
	return NewWifiClient(m.atlas.BaseURL, m.atlas.APIToken, m.cfg.Wifi, m.associator, m.cfg.requestTimeout())
}

func (m *Manager) dialMesh() (Client, error) {
	var transport RadioTransport
	var err error
	switch {
	case m.radioDial != nil:
		transport, err = m.radioDial(m.cfg)
	case m.cfg.Simulated:
		transport = NewSimulatedTransport()
	default:
		return nil, fmt.Errorf("comms: no radio dialer configured: %w", ErrRadioUnavailable)
	}
	if err != nil {
		return nil, err
	}
	return NewMeshClient(transport, m.cfg.GatewayNodeID), nil
}

func (m *Manager) buildClient(method string) (Client, error) {
	switch method {
	case MethodWifi:
		return m.wifiDial()
	case MethodMesh:
		return m.dialMesh()
	default:
		return nil, fmt.Errorf("comms: %q: %w", method, ErrUnknownMethod)
	}
}

// deriveSequence filters the current priority order down to the enabled
// methods. An empty enabled set means every method in the priority list
// is eligible.
func (m *Manager) deriveSequence() []string {
	priority := m.priority.Methods()
	if len(m.cfg.EnabledMethods) == 0 {
		return priority
	}
	enabled := make(map[string]struct{}, len(m.cfg.EnabledMethods))
	for _, name := range m.cfg.EnabledMethods {
		enabled[name] = struct{}{}
	}
	var sequence []string
	for _, name := range priority {
		if _, ok := enabled[name]; ok {
			sequence = append(sequence, name)
		}
	}
	return sequence
}

// initTransport walks the method sequence from startIndex and adopts
// the first transport that comes up. On total failure the manager is
// left disconnected and the worker keeps retrying.
func (m *Manager) initTransport(startIndex int) {
	if m.client != nil {
		_ = m.client.Close()
		m.client = nil
	}
	m.setState("", false)

	m.sequence = m.deriveSequence()
	if len(m.sequence) == 0 {
		m.logger.Error("No comms methods enabled; manager is offline")
		return
	}
	if startIndex < 0 || startIndex >= len(m.sequence) {
		startIndex = 0
	}
	for idx := startIndex; idx < len(m.sequence); idx++ {
		method := m.sequence[idx]
		client, err := m.buildClient(method)
		if err != nil {
			m.logger.Warn("Comms method unavailable", "method", method, "error", err)
			continue
		}
		m.client = client
		m.methodIndex = idx
		m.setState(method, true)
		if method == MethodWifi {
			m.lastWifiCheck = m.now()
		}
		m.logger.Info("Comms transport initialized", "method", method)
		m.publishMethodChange(false)
		return
	}
	m.logger.Error("All comms methods failed to initialize", "sequence", m.sequence)
}

// backoffDelay is the reconnection delay after a given number of failed
// attempts: 1s, 2s, 4s, ... capped at max.
func backoffDelay(failedAttempts int, max time.Duration) time.Duration {
	if failedAttempts < 0 {
		failedAttempts = 0
	}
	delay := time.Second
	for i := 0; i < failedAttempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// attemptReconnection retries transport bring-up. The first retry is
// immediate; subsequent retries back off exponentially. After a failed
// targeted fallback the next attempt restarts from the top of the
// sequence.
func (m *Manager) attemptReconnection(ctx context.Context) {
	if !m.running.Load() {
		return
	}
	if m.reconnectAttempts == 0 {
		m.logger.Info("Attempting comms reconnection")
	} else {
		delay := backoffDelay(m.reconnectAttempts-1, m.cfg.maxReconnectDelay())
		m.logger.Info("Retrying comms reconnection", "attempt", m.reconnectAttempts, "delay", delay)
		if !m.sleepFor(ctx, delay) {
			return
		}
	}

	start := 0
	if m.fallbackStart >= 0 {
		start = m.fallbackStart
	}
	m.initTransport(start)

	if m.client != nil && m.isConnected() {
		if m.reconnectAttempts > 0 {
			m.logger.Info("Comms connection restored", "method", m.currentMethod(), "attempts", m.reconnectAttempts)
			m.bus.Publish(TopicConnectionRestored, ConnectionEvent{Method: m.currentMethod(), Timestamp: m.now()})
		}
		m.publishStatus(false, "")
		m.reconnectAttempts = 0
		m.fallbackStart = -1
		return
	}
	m.reconnectAttempts++
	if m.fallbackStart > 0 {
		m.fallbackStart = 0
	}
}

// handleDisconnection records the loss of the active transport and
// arms the fallback start index so reconnection first tries the next
// method in the sequence rather than the one that just failed.
func (m *Manager) handleDisconnection() {
	if !m.isConnected() {
		return
	}
	method := m.currentMethod()
	m.setState(method, false)
	m.logger.Warn("Comms connection lost", "method", method)
	m.bus.Publish(TopicConnectionLost, ConnectionEvent{Method: method, Timestamp: m.now()})
	m.publishStatus(false, "")

	next := m.methodIndex + 1
	if next < len(m.sequence) {
		m.fallbackStart = next
	} else {
		m.fallbackStart = 0
	}
}

// Promotion back to the preferred method.

func (m *Manager) radioOutboxEmpty() bool {
	poller, ok := m.client.(MessagePoller)
	if !ok {
		return true
	}
	return poller.OutboxDepth() == 0
}

// shouldPromote gates promotion attempts: only while connected on a
// non-preferred method, never mid-request, never with undelivered
// outbound radio traffic, and at most once per promotion interval.
func (m *Manager) shouldPromote() bool {
	if !m.isConnected() || len(m.sequence) == 0 {
		return false
	}
	if m.currentMethod() == m.sequence[0] {
		return false
	}
	if m.processingRequest {
		return false
	}
	if !m.radioOutboxEmpty() {
		return false
	}
	now := m.now()
	if now.Sub(m.lastPromotionCheck) < m.cfg.promotionInterval() {
		return false
	}
	m.lastPromotionCheck = now
	return true
}

// promoteToPreferred tries to move back to the head of the sequence.
// The candidate transport is built and probed before the current one is
// torn down, so a failed probe leaves the active transport untouched.
func (m *Manager) promoteToPreferred() bool {
	preferred := m.sequence[0]
	client, err := m.buildClient(preferred)
	if err != nil {
		m.logger.Debug("Preferred comms method still unavailable", "method", preferred, "error", err)
		return false
	}
	if checker, ok := client.(ConnectivityChecker); ok {
		if !checker.IsConnected(m.cfg.Wifi.Interface) || !checker.HasConnectivity() {
			_ = client.Close()
			m.logger.Debug("Preferred comms method has no connectivity", "method", preferred)
			return false
		}
	}
	if m.client != nil {
		_ = m.client.Close()
	}
	m.client = client
	m.methodIndex = 0
	m.setState(preferred, true)
	if preferred == MethodWifi {
		m.lastWifiCheck = m.now()
	}
	m.logger.Info("Comms promoted to preferred method", "method", preferred)
	m.publishMethodChange(false)
	return true
}

// Request processing.

func (m *Manager) invoke(ctx context.Context, req Request) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.requestTimeout())
	defer cancel()
	return m.client.Invoke(callCtx, req.Function, req.Args)
}

// processRequest executes one queued request against the active
// transport. If the call fails because the transport died, the manager
// reconnects and retries exactly once, and only when reconnection
// landed on a different method.
func (m *Manager) processRequest(ctx context.Context, req Request) {
	start := m.now()
	if req.Function == "" {
		m.publishResponse(req, start, nil, fmt.Errorf("comms: missing function name: %w", ErrUnknownFunction))
		return
	}
	if m.client == nil {
		m.publishResponse(req, start, nil, ErrNotConnected)
		return
	}

	prevMethod := m.currentMethod()
	result, err := m.invoke(ctx, req)
	if err == nil {
		m.publishResponse(req, start, result, nil)
		return
	}

	if !m.isConnected() {
		m.handleDisconnection()
		m.attemptReconnection(ctx)
		if m.isConnected() && m.currentMethod() != prevMethod {
			m.logger.Info("Retrying request on fallback method", "function", req.Function, "method", m.currentMethod())
			result, retryErr := m.invoke(ctx, req)
			if retryErr == nil {
				m.publishResponse(req, start, result, nil)
				return
			}
			err = retryErr
		}
	}
	m.logger.Error("Comms request failed", "function", req.Function, "error", err)
	m.publishResponse(req, start, nil, err)
}

func (m *Manager) publishResponse(req Request, start time.Time, result any, err error) {
	resp := Response{
		Function:  req.Function,
		RequestID: req.RequestID,
		OK:        err == nil,
		Result:    result,
		Elapsed:   m.now().Sub(start).Seconds(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	m.bus.Publish(TopicResponse, resp)
}

// Worker loop.

// sleepFor blocks for d or until the worker is cancelled. It reports
// whether the full duration elapsed.
func (m *Manager) sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// checkWifiHealth periodically verifies that the wifi transport is
// still associated and has real connectivity. A dead network is marked
// bad and dropped so reconnection does not immediately pick it again.
// Returns false when the transport was torn down.
func (m *Manager) checkWifiHealth() bool {
	now := m.now()
	if now.Sub(m.lastWifiCheck) < m.cfg.wifiCheckInterval() {
		return true
	}
	m.lastWifiCheck = now
	checker, ok := m.client.(ConnectivityChecker)
	if !ok {
		return true
	}
	iface := m.cfg.Wifi.Interface
	if !checker.IsConnected(iface) {
		m.logger.Warn("Wifi no longer associated", "interface", iface)
		m.handleDisconnection()
		return false
	}
	if !checker.HasConnectivity() {
		m.logger.Warn("Wifi associated but no connectivity; dropping network", "interface", iface)
		checker.MarkBadCurrent(iface)
		if err := checker.Disconnect(iface); err != nil {
			m.logger.Warn("Wifi disconnect failed", "interface", iface, "error", err)
		}
		m.handleDisconnection()
		return false
	}
	return true
}

// pollMesh drains one inbound radio message or, when idle, flushes the
// outbox. Persistent receive errors tear the transport down.
func (m *Manager) pollMesh(consecutiveErrors int) int {
	poller, ok := m.client.(MessagePoller)
	if !ok {
		return consecutiveErrors
	}
	sender, msg, err := poller.ReceiveMessage(m.cfg.receiveTimeout())
	if err != nil {
		consecutiveErrors++
		m.logger.Warn("Radio receive error", "error", err, "consecutive", consecutiveErrors)
		if consecutiveErrors >= m.cfg.MaxConsecutiveErrors {
			m.logger.Error("Radio receive failing persistently; reinitializing transport")
			m.handleDisconnection()
			return 0
		}
		return consecutiveErrors
	}
	if msg != nil {
		m.bus.Publish(TopicMessageReceived, ReceivedMessage{
			Sender:        sender,
			MessageID:     msg.ID,
			Command:       msg.Command,
			Type:          msg.Type,
			Data:          msg.Data,
			CorrelationID: msg.CorrelationID,
			Timestamp:     m.now(),
		})
		return 0
	}
	if err := poller.ProcessOutbox(); err != nil {
		m.logger.Debug("Radio outbox flush failed", "error", err)
	}
	return 0
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	consecutiveErrors := 0
	for m.running.Load() && ctx.Err() == nil {
		if m.client == nil || !m.isConnected() {
			m.attemptReconnection(ctx)
			if !m.isConnected() {
				m.sleepFor(ctx, time.Second)
			}
			continue
		}

		if m.currentMethod() == MethodWifi && !m.checkWifiHealth() {
			continue
		}

		if m.shouldPromote() && m.promoteToPreferred() {
			continue
		}

		if req, ok := m.dequeue(); ok {
			m.processingRequest = true
			m.processRequest(ctx, req)
			m.processingRequest = false
			continue
		}

		if m.currentMethod() == MethodMesh {
			consecutiveErrors = m.pollMesh(consecutiveErrors)
			continue
		}
		m.sleepFor(ctx, time.Second)
	}
}
