package assetos

import (
	"sync"
	"sync/atomic"
)

// Handler processes a message published to a topic. Handlers run
// synchronously on the publisher's goroutine.
type Handler func(data any)

// Subscription identifies a single handler registration on the bus.
// It is returned by Subscribe and passed to Unsubscribe.
type Subscription struct {
	topic   string
	handler Handler
	id      uint64
}

// Topic returns the topic this subscription is registered on.
func (s *Subscription) Topic() string {
	return s.topic
}

// Recorder observes every successful publish. Implementations must be safe
// for concurrent use; errors are the recorder's own concern.
type Recorder interface {
	Record(topic string, data any)
}

// Bus is a lightweight, thread-safe, synchronous publish/subscribe broker.
//
// Publish takes a snapshot of the subscriber list under the lock and
// invokes handlers outside it, in subscription order, so a handler may
// safely subscribe, unsubscribe, or publish further events without
// deadlocking the publish call. A handler that panics is recovered and
// logged and does not prevent remaining handlers from running.
//
// There is no delivery guarantee beyond: all handlers registered at the
// moment of publish are invoked exactly once, synchronously, on the
// publisher's goroutine.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*Subscription
	nextID      uint64
	running     atomic.Bool
	logger      Logger
	recorder    Recorder
}

// NewBus creates a bus ready for use.
func NewBus(logger Logger) *Bus {
	b := &Bus{
		subscribers: make(map[string][]*Subscription),
		logger:      logger,
	}
	b.running.Store(true)
	return b
}

// SetRecorder installs a recorder that observes every publish. Pass nil to
// remove it. Must be called before concurrent use of the bus begins.
func (b *Bus) SetRecorder(rec Recorder) {
	b.recorder = rec
}

// Subscribe registers a handler for a topic and returns its subscription.
// Subscribing remains available after Shutdown.
func (b *Bus) Subscribe(topic string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{topic: topic, handler: handler, id: b.nextID}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.logger.Debug("Subscribed", "topic", topic)
	return sub
}

// Unsubscribe removes a subscription. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscribers[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			b.logger.Debug("Unsubscribed", "topic", sub.topic)
			break
		}
	}
	if len(b.subscribers[sub.topic]) == 0 {
		delete(b.subscribers, sub.topic)
	}
}

// SubscriberCount returns the number of handlers registered on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Publish delivers data to every handler currently subscribed to the
// topic. After Shutdown, Publish becomes a no-op.
func (b *Bus) Publish(topic string, data any) {
	if !b.running.Load() {
		return
	}

	b.mu.RLock()
	subs := b.subscribers[topic]
	snapshot := make([]*Subscription, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	if b.recorder != nil {
		b.recorder.Record(topic, data)
	}

	for _, sub := range snapshot {
		b.invoke(sub, topic, data)
	}
}

func (b *Bus) invoke(sub *Subscription, topic string, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked", "topic", topic, "panic", r)
		}
	}()
	sub.handler(data)
}

// Shutdown stops the bus from accepting new publishes. Subscribe and
// Unsubscribe remain available.
func (b *Bus) Shutdown() {
	b.running.Store(false)
	b.logger.Info("Bus shutting down")
}
