package comms

import (
	"context"
	"errors"
	"time"
)

// Client errors
var (
	ErrUnknownFunction   = errors.New("unknown comms function")
	ErrUnknownMethod     = errors.New("unknown comms method")
	ErrNoMethodAvailable = errors.New("no comms method initialized")
	ErrEmptySequence     = errors.New("no enabled comms methods match priority list")
	ErrMissingBaseURL    = errors.New("wifi comms requires atlas base_url")
	ErrRadioUnavailable  = errors.New("radio bridge not available")
	ErrRemoteError       = errors.New("remote call failed")
	ErrNotConnected      = errors.New("comms client not connected")
)

// Client is the capability set shared by transport clients. The manager
// holds a Client and never a concrete type; method-specific capabilities
// are discovered through the optional interfaces below.
type Client interface {
	// Invoke calls the named remote-procedure function with keyword
	// arguments against the command service.
	Invoke(ctx context.Context, function string, args map[string]any) (any, error)

	// Close releases transport resources. Safe to call more than once.
	Close() error
}

// ConnectivityChecker is implemented by clients whose link health is
// probed periodically rather than inferred from traffic (the wifi path).
type ConnectivityChecker interface {
	// IsConnected reports whether the network interface is associated.
	IsConnected(iface string) bool

	// HasConnectivity probes end-to-end reachability of the command
	// service.
	HasConnectivity() bool

	// MarkBadCurrent marks the currently associated network as
	// undesirable so it is not immediately retried.
	MarkBadCurrent(iface string)

	// Disconnect drops the interface's association.
	Disconnect(iface string) error
}

// MessagePoller is implemented by clients that receive unsolicited
// inbound messages and spool outbound ones (the mesh path).
type MessagePoller interface {
	// ReceiveMessage polls for one inbound message. A nil message with a
	// nil error means nothing arrived within the timeout.
	ReceiveMessage(timeout time.Duration) (sender string, msg *InboundMessage, err error)

	// ProcessOutbox advances transmission of spooled outbound messages.
	ProcessOutbox() error

	// OutboxDepth reports the number of not-yet-delivered outbound
	// messages.
	OutboxDepth() int
}

// wellKnownFunctions is the remote-procedure surface exposed by the
// command service. Both transports dispatch by name; an unknown name is
// rejected locally before touching the wire.
var wellKnownFunctions = map[string]struct{}{
	"echo":                   {},
	"health_check":           {},
	"get_entity":             {},
	"get_entity_by_alias":    {},
	"list_entities":          {},
	"create_entity":          {},
	"update_entity":          {},
	"checkin_entity":         {},
	"update_telemetry":       {},
	"get_changed_since":      {},
	"create_task":            {},
	"update_task":            {},
	"delete_task":            {},
	"list_tasks":             {},
	"get_tasks_by_entity":    {},
	"start_task":             {},
	"complete_task":          {},
	"fail_task":              {},
	"transition_task_status": {},
	"create_object":          {},
	"update_object":          {},
	"get_object":             {},
	"list_objects":           {},
	"get_objects_by_entity":  {},
	"get_objects_by_task":    {},
	"get_object_references":  {},
	"find_orphaned_objects":  {},
	"get_full_dataset":       {},
}

// KnownFunction reports whether the named remote-procedure function is
// part of the command service surface.
func KnownFunction(name string) bool {
	_, ok := wellKnownFunctions[name]
	return ok
}
