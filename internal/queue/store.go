package queue

import (
	"context"

	"github.com/google/uuid"

	"github.com/rat-data/ratd-core/internal/domain"
)

// Store is the persistence gateway the engine needs: create, claim, and
// remove queue documents. internal/postgres.QueueStore is the production
// implementation; tests use an in-memory fake satisfying the same
// interface.
type Store interface {
	// Enqueue persists a new PENDING document and returns its id.
	Enqueue(ctx context.Context, queueType string, priority, ttlSeconds int, payload []byte) (uuid.UUID, error)

	// Claim performs the conditional update described in spec.md §4.1:
	// if the persisted runner_id is absent, equal to runnerID, or its
	// lease has expired, it is set to runnerID and ttl_timestamp is
	// pushed forward by ttlSeconds. Returns the updated document and
	// true if the claim succeeded, or false if another runner holds an
	// unexpired lease.
	Claim(ctx context.Context, id uuid.UUID, runnerID string, ttlSeconds int) (domain.QueueDocument, bool, error)

	// IncrementAttempts increments attempts and returns the new count.
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)

	// SetState persists a new state for the document.
	SetState(ctx context.Context, id uuid.UUID, state domain.QueueState) error

	// Remove deletes the document. Called once complete, regardless of
	// whether completion followed the committed or rollback path.
	Remove(ctx context.Context, id uuid.UUID) error

	// Scan returns candidate documents ordered by ascending priority,
	// then creation time.
	Scan(ctx context.Context) ([]domain.QueueDocument, error)
}
