package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rat-data/ratd-core/internal/domain"
	"github.com/rat-data/ratd-core/internal/messenger"
)

// PollInterval is how often the engine scans when no queue_update
// notification arrives in the meantime.
const PollInterval = 5 * time.Second

// Config controls the engine's lease and retry policy. Priority is chosen
// per enqueue; TTLSeconds applies to every document, as Enqueue takes no
// per-document ttl argument.
type Config struct {
	TTLSeconds  int
	MaxAttempts int
}

// Engine runs the queue's scan-claim-execute loop described in spec.md
// §4.1. Only one Engine per process should call Start — in a multi-replica
// deployment the leader gates this (see internal/leader).
type Engine struct {
	store    Store
	registry *Registry
	msgr     messenger.Messenger
	cfg      Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine constructs an Engine. registry supplies executors by
// queue_type; msgr wakes the scan loop early on a queue_update
// notification.
func NewEngine(store Store, registry *Registry, msgr messenger.Messenger, cfg Config) *Engine {
	return &Engine{store: store, registry: registry, msgr: msgr, cfg: cfg}
}

// Enqueue persists a new PENDING document and publishes queue_update.
func (e *Engine) Enqueue(ctx context.Context, queueType string, priority int, payload []byte) (uuid.UUID, error) {
	id, err := e.store.Enqueue(ctx, queueType, priority, e.cfg.TTLSeconds, payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue: enqueue %s: %w", queueType, err)
	}

	if err := e.msgr.Publish(ctx, messenger.ChannelQueueUpdate, domain.QueueUpdatePayload{DocumentID: id.String()}); err != nil {
		slog.Warn("queue: failed to publish queue_update", "document_id", id, "error", err)
	}

	return id, nil
}

// Start launches the scan loop in a background goroutine. It scans
// immediately, then on each PollInterval tick or queue_update
// notification, whichever comes first.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	notify, cancelSub := e.msgr.Subscribe(messenger.ChannelQueueUpdate)

	go func() {
		defer close(e.done)
		defer cancelSub()

		e.scanLogged(ctx)

		ticker := time.NewTicker(PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.scanLogged(ctx)
			case <-notify:
				e.scanLogged(ctx)
			}
		}
	}()
}

// Stop cancels the scan loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

func (e *Engine) scanLogged(ctx context.Context) {
	if err := e.Scan(ctx); err != nil {
		slog.Error("queue: scan failed", "error", err)
	}
}

// Scan enumerates candidate documents ordered by ascending priority and
// attempts RunOnce on each. Ordering within a priority band is undefined;
// scanners must not assume FIFO.
func (e *Engine) Scan(ctx context.Context) error {
	docs, err := e.store.Scan(ctx)
	if err != nil {
		return fmt.Errorf("queue: scan: %w", err)
	}

	for _, doc := range docs {
		if err := e.RunOnce(ctx, doc); err != nil {
			slog.Error("queue: run_once failed", "document_id", doc.ID, "queue_type", doc.QueueType, "error", err)
		}
	}
	return nil
}

// RunOnce attempts a single execution cycle on one document, following the
// claim/execute/re-claim protocol in spec.md §4.1. A return of nil does
// not mean the document progressed — it may have been skipped because
// another runner holds its lease.
func (e *Engine) RunOnce(ctx context.Context, doc domain.QueueDocument) error {
	runnerID := uuid.NewString()

	claimed, ok, err := e.store.Claim(ctx, doc.ID, runnerID, e.cfg.TTLSeconds)
	if err != nil {
		return fmt.Errorf("claim a: %w", err)
	}
	if !ok {
		return nil
	}

	executor := e.registry.New(claimed.QueueType)
	if executor == nil {
		slog.Error("queue: no executor registered", "queue_type", claimed.QueueType, "document_id", claimed.ID)
		return nil
	}

	if claimed.State == domain.QueuePending {
		attempts, err := e.store.IncrementAttempts(ctx, claimed.ID)
		if err != nil {
			return fmt.Errorf("increment attempts: %w", err)
		}

		maxAttempts := e.cfg.MaxAttempts
		if attempts > maxAttempts {
			if err := e.store.SetState(ctx, claimed.ID, domain.QueueRollback); err != nil {
				return fmt.Errorf("set rollback state: %w", err)
			}
			claimed.State = domain.QueueRollback
		} else {
			if err := runExecutorPhase(ctx, "task", claimed, func() error {
				return executor.Task(ctx, claimed.Payload)
			}); err != nil {
				// Logged by runExecutorPhase. Expire our lease so the next
				// scan's runner can claim the document for its next attempt.
				if _, _, err := e.store.Claim(ctx, claimed.ID, runnerID, 0); err != nil {
					return fmt.Errorf("release lease: %w", err)
				}
				return nil
			}
			if err := e.store.SetState(ctx, claimed.ID, domain.QueueCommitted); err != nil {
				return fmt.Errorf("set committed state: %w", err)
			}
			claimed.State = domain.QueueCommitted
		}
	}

	// Claim B: re-assert ownership before running post/rollback phases.
	// Protects against a task() that outlived the lease.
	reclaimed, ok, err := e.store.Claim(ctx, claimed.ID, runnerID, e.cfg.TTLSeconds)
	if err != nil {
		return fmt.Errorf("claim b: %w", err)
	}
	if !ok {
		return nil
	}

	switch reclaimed.State {
	case domain.QueueCommitted:
		_ = runExecutorPhase(ctx, "post_task", reclaimed, func() error {
			return executor.PostTask(ctx, reclaimed.Payload)
		})
	case domain.QueueRollback:
		_ = runExecutorPhase(ctx, "rollback_task", reclaimed, func() error {
			return executor.RollbackTask(ctx, reclaimed.Payload)
		})
	}

	if err := e.store.Remove(ctx, reclaimed.ID); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	return nil
}

// runExecutorPhase invokes fn, logging any error with queue-id/type
// context per spec.md §4.1. The document is left for a future runner on
// failure — its attempts count has already been persisted.
func runExecutorPhase(_ context.Context, phase string, doc domain.QueueDocument, fn func() error) error {
	if err := fn(); err != nil {
		slog.Error("queue: executor phase failed",
			"phase", phase,
			"document_id", doc.ID,
			"queue_type", doc.QueueType,
			"error", err,
		)
		return err
	}
	return nil
}
