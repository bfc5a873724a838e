package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// OutboxMessage is an event waiting to be relayed to the event bus.
type OutboxMessage struct {
	ID       string
	Topic    string
	Payload  any
	Attempts int
}

const maxOutboxAttempts = 10

type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// FetchPending claims PENDING events, and PROCESSING events whose claim is
// older than staleAfter, using FOR UPDATE SKIP LOCKED so concurrent relays
// never claim the same row. Payload is returned as raw JSON bytes.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int, staleAfter time.Duration) ([]OutboxMessage, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin outbox claim: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'PENDING'
		   OR (status = 'PROCESSING' AND claimed_at < $2)
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit, now.Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}

	var messages []OutboxMessage
	var ids []string
	for rows.Next() {
		var m OutboxMessage
		var payload []byte
		if err := rows.Scan(&m.ID, &m.Topic, &payload, &m.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		m.Payload = payload
		messages = append(messages, m)
		ids = append(ids, m.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE outbox SET status = 'PROCESSING', claimed_at = $2
		WHERE id = ANY($1)
	`, pq.Array(ids), now); err != nil {
		return nil, fmt.Errorf("failed to claim outbox rows: %w", err)
	}

	return messages, tx.Commit()
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = 'PROCESSED', processed_at = $1 WHERE id = $2
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event processed: %w", err)
	}
	return nil
}

// MarkForRetry returns the event to PENDING, or parks it as FAILED once it
// has used up its attempts. A parked event leaves its saga STARTED for the
// reconciler.
func (r *OutboxRepository) MarkForRetry(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $2 THEN 'FAILED' ELSE 'PENDING' END
		WHERE id = $1
	`, id, maxOutboxAttempts)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event for retry: %w", err)
	}
	return nil
}
