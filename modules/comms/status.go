package comms

// statusKey identifies a distinct connection state. Status events are
// republished only when the key changes, or when explicitly requested or
// forced.
type statusKey struct {
	method    string
	connected bool
}

// buildStatusLocked assembles a status snapshot. Callers must hold
// m.stateMu.
func (m *Manager) buildStatusLocked(requestID string) Status {
	transport := map[string]any{}
	switch m.method {
	case MethodWifi:
		transport = map[string]any{
			"interface": m.cfg.Wifi.Interface,
			"ssid":      m.cfg.Wifi.SSID,
		}
	case MethodMesh:
		transport = map[string]any{
			"radio_port":      m.cfg.RadioPort,
			"gateway_node_id": m.cfg.GatewayNodeID,
			"mode":            m.cfg.Mode,
			"simulated":       m.cfg.Simulated,
		}
	}
	return Status{
		Method:     m.method,
		Connected:  m.connected,
		LastChange: m.statusLastChange,
		Transport:  transport,
		Timestamp:  m.now(),
		RequestID:  requestID,
	}
}

// publishStatus publishes a status snapshot when the (method, connected)
// key changed, or when forced, or when a requester's correlation id is
// present. LastChange moves only on a genuine key transition.
func (m *Manager) publishStatus(force bool, requestID string) {
	m.stateMu.Lock()
	key := statusKey{method: m.method, connected: m.connected}
	changed := m.lastStatusKey == nil || *m.lastStatusKey != key
	if changed {
		m.statusLastChange = m.now()
		k := key
		m.lastStatusKey = &k
	}
	status := m.buildStatusLocked(requestID)
	m.stateMu.Unlock()

	if force || requestID != "" || changed {
		m.bus.Publish(TopicStatus, status)
	}
}

// publishMethodChange announces the active method when it differs from
// the last announcement (or always, when forced), then publishes status.
func (m *Manager) publishMethodChange(force bool) {
	m.stateMu.Lock()
	method := m.method
	if method == "" || (!force && method == m.lastMethod) {
		m.stateMu.Unlock()
		return
	}
	m.lastMethod = method
	ts := m.now()
	m.stateMu.Unlock()

	m.bus.Publish(TopicMethodChanged, MethodChange{Method: method, Timestamp: ts})
	m.publishStatus(false, "")
}
