// Package messenger implements the control plane's in-process and
// cross-process pub/sub used to wake queue runners and fan out
// servers_updated/users_updated notifications to anything watching them
// (the admin surface, future webhook sinks).
package messenger

import (
	"context"
	"encoding/json"
	"sync"
)

// Event represents a single notification delivered on a channel.
type Event struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Messenger publishes and subscribes to named channels. InProcess is the
// single-replica implementation; Postgres backs it with LISTEN/NOTIFY for
// multi-replica deployments — see postgres.go.
type Messenger interface {
	// Publish sends an event on the given channel with a JSON-encodable payload.
	Publish(ctx context.Context, channel string, payload interface{}) error

	// Subscribe registers a listener for the given channel and returns a
	// read-only channel of events plus a cancel function. The caller must
	// call cancel to unsubscribe and release the channel.
	Subscribe(channel string) (<-chan Event, func())
}

// subscriber holds a single subscriber's delivery channel and done signal.
type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// InProcess is an in-memory Messenger for single-replica deployments and
// tests. Publish delivers synchronously to all current subscribers.
type InProcess struct {
	mu          sync.Mutex
	subscribers map[string][]subscriber
	published   []Event
}

// NewInProcess creates an in-memory Messenger.
func NewInProcess() *InProcess {
	return &InProcess{subscribers: make(map[string][]subscriber)}
}

// Publish delivers the event synchronously to all subscribers on channel.
func (m *InProcess) Publish(_ context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := Event{Channel: channel, Payload: json.RawMessage(data)}

	m.mu.Lock()
	m.published = append(m.published, event)
	subs := make([]subscriber, len(m.subscribers[channel]))
	copy(subs, m.subscribers[channel])
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case <-sub.done:
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener for channel.
func (m *InProcess) Subscribe(channel string) (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := subscriber{ch: make(chan Event, 16), done: make(chan struct{})}
	m.subscribers[channel] = append(m.subscribers[channel], sub)

	cancel := func() {
		close(sub.done)
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[channel]
		for i, s := range subs {
			if s.ch == sub.ch {
				m.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}

	return sub.ch, cancel
}

// Published returns all events published so far, for test assertions.
func (m *InProcess) Published() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Event, len(m.published))
	copy(result, m.published)
	return result
}
