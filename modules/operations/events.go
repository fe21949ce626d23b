package operations

import "time"

// Bus topics owned or consumed by the operations module.
const (
	// TopicHeartbeat is a periodic liveness beacon for local consumers.
	TopicHeartbeat = "operations.heartbeat"

	// TopicCommandReceived carries an inbound request routed off the
	// comms transport.
	TopicCommandReceived = "operations.command_received"

	// TopicDataReceived carries an inbound response message.
	TopicDataReceived = "operations.data_received"

	// TopicErrorReceived carries an inbound error message.
	TopicErrorReceived = "operations.error_received"

	// TopicMessageReceived carries inbound messages of unknown type.
	TopicMessageReceived = "operations.message_received"

	// TopicDataStoreSync republishes a consumed datastore snapshot for
	// downstream consumers.
	TopicDataStoreSync = "operations.data_store_sync"

	// TopicCommandRegister and TopicCommandUnregister let other modules
	// (un)install task handlers by command name.
	TopicCommandRegister   = "commands.register"
	TopicCommandUnregister = "commands.unregister"

	// TopicSystemCheckRequest asks the runtime to run an aggregated
	// health check.
	TopicSystemCheckRequest = "system.check.request"
)

// TaskHandler executes a dispatched task. The returned map, if any, is
// reported upstream with the task completion.
type TaskHandler func(params map[string]any) (map[string]any, error)

// CommandRegistration installs or removes a task handler.
type CommandRegistration struct {
	Command string
	Handler TaskHandler
}

// RoutedMessage is the payload published on the operations routing
// topics for messages received over comms.
type RoutedMessage struct {
	Sender        string         `json:"sender"`
	Command       string         `json:"command"`
	MessageID     string         `json:"message_id"`
	Type          string         `json:"type,omitempty"`
	Data          map[string]any `json:"data"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Heartbeat is the periodic liveness payload.
type Heartbeat struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
