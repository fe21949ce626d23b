package comms

import "time"

// Bus topics forming the wire contract between the comms module and the
// rest of the runtime.
const (
	// TopicRequest enqueues a remote-procedure call for ordered processing.
	TopicRequest = "comms.request"

	// TopicResponse carries the outcome of a processed request.
	TopicResponse = "comms.response"

	// TopicStatus carries a connection status snapshot.
	TopicStatus = "comms.status"

	// TopicMethodChanged announces a transport method switch.
	TopicMethodChanged = "comms.method_changed"

	// TopicConnectionLost and TopicConnectionRestored bracket an outage.
	TopicConnectionLost     = "comms.connection_lost"
	TopicConnectionRestored = "comms.connection_restored"

	// TopicGetStatus requests an immediate status publication.
	TopicGetStatus = "comms.get_status"

	// TopicMessageReceived carries an inbound message from the remote
	// command service.
	TopicMessageReceived = "comms.message_received"
)

// Transport method names. The effective sequence is the operator's
// priority list filtered to the enabled subset.
const (
	MethodWifi = "wifi"
	MethodMesh = "mesh"
)

// Request is a remote-procedure call placed on the comms queue by bus
// subscribers. RequestID is caller-supplied and echoed back unchanged.
type Request struct {
	Function  string         `json:"function"`
	Args      map[string]any `json:"args"`
	RequestID string         `json:"request_id"`
}

// Response reports the outcome of a Request.
type Response struct {
	Function  string  `json:"function"`
	RequestID string  `json:"request_id"`
	OK        bool    `json:"ok"`
	Result    any     `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
	Elapsed   float64 `json:"elapsed"`
}

// Status is a connection status snapshot. LastChange is zero until the
// first (method, connected) transition.
type Status struct {
	Method     string         `json:"method"`
	Connected  bool           `json:"connected"`
	LastChange time.Time      `json:"last_change_ts"`
	Transport  map[string]any `json:"transport"`
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id,omitempty"`
}

// MethodChange announces the active transport method.
type MethodChange struct {
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionEvent marks a connection loss or restoration.
type ConnectionEvent struct {
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundMessage is a message received from the remote command service
// through whichever transport is active.
type InboundMessage struct {
	ID            string
	Command       string
	Type          string
	Data          map[string]any
	CorrelationID string
}

// ReceivedMessage is the bus payload published for an InboundMessage.
type ReceivedMessage struct {
	Sender        string         `json:"sender"`
	MessageID     string         `json:"message_id"`
	Command       string         `json:"command"`
	Type          string         `json:"type"`
	Data          map[string]any `json:"data"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}
