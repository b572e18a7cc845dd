package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rat-data/ratd-core/internal/domain"
)

// QueueStore is the Postgres-backed implementation of queue.Store. It
// encodes the claim predicate as a single conditional UPDATE, widened to
// include TTL expiry so an abandoned lease is reclaimable without waiting
// for the original runner to release it explicitly.
type QueueStore struct {
	pool *pgxpool.Pool
}

// NewQueueStore wraps a connection pool as a queue.Store.
func NewQueueStore(pool *pgxpool.Pool) *QueueStore {
	return &QueueStore{pool: pool}
}

// Enqueue persists a new PENDING document.
func (s *QueueStore) Enqueue(ctx context.Context, queueType string, priority, ttlSeconds int, payload []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_documents (id, queue_type, state, priority, attempts, ttl_seconds, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, now(), now())
	`, id, queueType, domain.QueuePending, priority, ttlSeconds, payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert queue document: %w", err)
	}
	return id, nil
}

// Claim is the implementation of spec.md §4.1's "Claim A"/"Claim B" step:
// a document is claimable if its runner_id is NULL, already equals ours,
// or its lease has expired. On success it returns the freshly claimed row.
func (s *QueueStore) Claim(ctx context.Context, id uuid.UUID, runnerID string, ttlSeconds int) (domain.QueueDocument, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_documents
		SET runner_id = $2, ttl_timestamp = now() + ($3 || ' seconds')::interval, updated_at = now()
		WHERE id = $1
		  AND (runner_id IS NULL OR runner_id = $2 OR ttl_timestamp < now())
		RETURNING id, queue_type, state, priority, attempts, ttl_seconds, ttl_timestamp, runner_id, payload, created_at, updated_at
	`, id, runnerID, ttlSeconds)

	doc, err := scanQueueDocument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.QueueDocument{}, false, nil
		}
		return domain.QueueDocument{}, false, fmt.Errorf("claim document %s: %w", id, err)
	}
	return doc, true, nil
}

// IncrementAttempts increments attempts and returns the new count.
func (s *QueueStore) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE queue_documents SET attempts = attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING attempts
	`, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("increment attempts %s: %w", id, err)
	}
	return attempts, nil
}

// SetState persists a new lifecycle state.
func (s *QueueStore) SetState(ctx context.Context, id uuid.UUID, state domain.QueueState) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_documents SET state = $2, updated_at = now() WHERE id = $1
	`, id, state)
	if err != nil {
		return fmt.Errorf("set state %s: %w", id, err)
	}
	return nil
}

// Remove deletes the document.
func (s *QueueStore) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM queue_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove document %s: %w", id, err)
	}
	return nil
}

// Scan returns candidates ordered by ascending priority, then creation
// time — no FIFO guarantee within a priority band, only an implementation
// convenience for deterministic tests.
func (s *QueueStore) Scan(ctx context.Context) ([]domain.QueueDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, queue_type, state, priority, attempts, ttl_seconds, ttl_timestamp, runner_id, payload, created_at, updated_at
		FROM queue_documents
		ORDER BY priority ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("scan queue documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.QueueDocument
	for rows.Next() {
		doc, err := scanQueueDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// rowScanner is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query).
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueDocument(row rowScanner) (domain.QueueDocument, error) {
	var (
		doc          domain.QueueDocument
		ttlTimestamp *time.Time
		runnerID     *string
	)
	err := row.Scan(
		&doc.ID, &doc.QueueType, &doc.State, &doc.Priority, &doc.Attempts,
		&doc.TTLSeconds, &ttlTimestamp, &runnerID, &doc.Payload,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return domain.QueueDocument{}, err
	}
	doc.TTLTimestamp = ttlTimestamp
	doc.RunnerID = runnerID
	return doc, nil
}
