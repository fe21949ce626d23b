package comms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RadioTransport is the narrow capability interface onto the external
// radio bridge. The bridge owns the wire-level chunking, reassembly, and
// spooling protocol; this module only exchanges whole messages and drains
// the spool.
type RadioTransport interface {
	// Exchange sends a command to the gateway and waits for its
	// correlated response.
	Exchange(ctx context.Context, command string, args map[string]any) (any, error)

	// ReceiveMessage polls for one unsolicited inbound message. A nil
	// message with a nil error means nothing arrived within the timeout.
	ReceiveMessage(timeout time.Duration) (sender string, msg *InboundMessage, err error)

	// ProcessOutbox advances transmission of spooled outbound messages.
	ProcessOutbox() error

	// OutboxDepth reports the number of spooled outbound messages.
	OutboxDepth() int

	// Close releases the radio handle.
	Close() error
}

// RadioDialer opens a RadioTransport for the given configuration. The
// production dialer lives with the embedder that links the radio bridge;
// this module falls back to the simulator when cfg.Simulated is set.
type RadioDialer func(cfg Config) (RadioTransport, error)

// MeshClient reaches the command service through a mesh radio gateway.
// It implements Client and MessagePoller.
type MeshClient struct {
	transport RadioTransport
	gatewayID string
}

// NewMeshClient wraps a radio transport.
func NewMeshClient(transport RadioTransport, gatewayID string) *MeshClient {
	return &MeshClient{transport: transport, gatewayID: gatewayID}
}

// Invoke sends a remote-procedure call through the radio gateway.
func (c *MeshClient) Invoke(ctx context.Context, function string, args map[string]any) (any, error) {
	if !KnownFunction(function) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, function)
	}
	result, err := c.transport.Exchange(ctx, function, args)
	if err != nil {
		return nil, fmt.Errorf("radio exchange %s failed: %w", function, err)
	}
	return result, nil
}

// ReceiveMessage polls the radio for one inbound message.
func (c *MeshClient) ReceiveMessage(timeout time.Duration) (string, *InboundMessage, error) {
	sender, msg, err := c.transport.ReceiveMessage(timeout)
	if err != nil {
		return "", nil, fmt.Errorf("radio receive failed: %w", err)
	}
	return sender, msg, nil
}

// ProcessOutbox drains pending radio sends.
func (c *MeshClient) ProcessOutbox() error {
	if err := c.transport.ProcessOutbox(); err != nil {
		return fmt.Errorf("radio outbox processing failed: %w", err)
	}
	return nil
}

// OutboxDepth reports pending radio sends.
func (c *MeshClient) OutboxDepth() int {
	return c.transport.OutboxDepth()
}

// Close releases the radio handle.
func (c *MeshClient) Close() error {
	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close radio: %w", err)
	}
	return nil
}

// SimulatedTransport is an in-process stand-in for the radio bridge used
// in simulation mode and in tests. Exchanges echo their arguments back;
// inbound messages can be injected with Inject.
type SimulatedTransport struct {
	mu      sync.Mutex
	inbound []simMessage
	closed  bool
}

type simMessage struct {
	sender string
	msg    *InboundMessage
}

// NewSimulatedTransport creates an empty simulator.
func NewSimulatedTransport() *SimulatedTransport {
	return &SimulatedTransport{}
}

// Inject queues an inbound message for a later ReceiveMessage poll.
func (t *SimulatedTransport) Inject(sender string, msg *InboundMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	t.inbound = append(t.inbound, simMessage{sender: sender, msg: msg})
}

// Exchange echoes the command and arguments back as the response.
func (t *SimulatedTransport) Exchange(_ context.Context, command string, args map[string]any) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrRadioUnavailable
	}
	return map[string]any{"command": command, "echo": args, "simulated": true}, nil
}

// ReceiveMessage pops one injected message, polling until the timeout
// elapses when the queue is empty.
func (t *SimulatedTransport) ReceiveMessage(timeout time.Duration) (string, *InboundMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return "", nil, ErrRadioUnavailable
		}
		if len(t.inbound) > 0 {
			next := t.inbound[0]
			t.inbound = t.inbound[1:]
			t.mu.Unlock()
			return next.sender, next.msg, nil
		}
		t.mu.Unlock()
		if !time.Now().Before(deadline) {
			return "", nil, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ProcessOutbox is a no-op; the simulator delivers immediately.
func (t *SimulatedTransport) ProcessOutbox() error { return nil }

// OutboxDepth is always zero for the simulator.
func (t *SimulatedTransport) OutboxDepth() int { return 0 }

// Close marks the simulator unusable.
func (t *SimulatedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
