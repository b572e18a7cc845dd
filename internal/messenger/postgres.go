package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Well-known channel names used by the queue engine and node session
// controller.
const (
	ChannelQueueUpdate    = "queue_update"
	ChannelServersUpdated = "servers_updated"
	ChannelUsersUpdated   = "users_updated"
)

// Postgres implements Messenger using Postgres LISTEN/NOTIFY. This lets a
// queue document enqueued on one ratd replica wake a scanner on another
// instantly, instead of waiting out the poll interval.
//
// It acquires a dedicated *pgx.Conn (not from the pool) to hold persistent
// LISTEN channels. The pool's regular connections remain free for queries.
// NOTIFY calls go through the pool — no dedicated connection needed.
type Postgres struct {
	pool       *pgxpool.Pool
	listenConn *pgx.Conn

	mu          sync.Mutex
	subscribers map[string][]subscriber
	listening   map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgres creates a Postgres-backed Messenger. Call Start to begin
// listening.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool:        pool,
		subscribers: make(map[string][]subscriber),
		listening:   make(map[string]bool),
	}
}

// Start acquires a dedicated connection and begins the notification
// listener loop. The loop runs until ctx is cancelled or Stop is called.
func (m *Postgres) Start(ctx context.Context) error {
	connConfig := m.pool.Config().ConnConfig.Copy()
	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return fmt.Errorf("messenger: acquire listen connection: %w", err)
	}
	m.listenConn = conn

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.listenLoop(ctx)

	slog.Info("messenger started")
	return nil
}

// Stop cancels the listener loop and closes the dedicated connection.
func (m *Postgres) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	if m.listenConn != nil {
		_ = m.listenConn.Close(context.Background())
	}
	slog.Info("messenger stopped")
}

// Publish sends a NOTIFY on channel through the pool. The payload is
// JSON-serialized.
func (m *Postgres) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messenger: marshal payload: %w", err)
	}

	if _, err := m.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(data)); err != nil {
		return fmt.Errorf("messenger: notify %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers a listener for channel. The event channel is
// buffered (16) to avoid blocking the listener loop on slow consumers.
// The first subscriber on a channel triggers a LISTEN command.
func (m *Postgres) Subscribe(channel string) (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := subscriber{ch: make(chan Event, 16), done: make(chan struct{})}
	m.subscribers[channel] = append(m.subscribers[channel], sub)

	if !m.listening[channel] && m.listenConn != nil {
		if _, err := m.listenConn.Exec(context.Background(), "LISTEN "+channel); err != nil {
			slog.Error("messenger: LISTEN failed", "channel", channel, "error", err)
		} else {
			m.listening[channel] = true
		}
	}

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

// listenLoop waits for Postgres notifications and dispatches them to subscribers.
func (m *Postgres) listenLoop(ctx context.Context) {
	defer close(m.done)

	for {
		notification, err := m.listenConn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("messenger: wait for notification failed", "error", err)
			return
		}

		event := Event{
			Channel: notification.Channel,
			Payload: json.RawMessage(notification.Payload),
		}

		m.mu.Lock()
		subs := make([]subscriber, len(m.subscribers[notification.Channel]))
		copy(subs, m.subscribers[notification.Channel])
		m.mu.Unlock()

		for _, sub := range subs {
			select {
			case <-sub.done:
			case sub.ch <- event:
			default:
				slog.Warn("messenger: subscriber buffer full, dropping event",
					"channel", notification.Channel)
			}
		}
	}
}
