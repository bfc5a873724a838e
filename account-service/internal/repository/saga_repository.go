package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transfer-saga/shared/models"
	sharedredis "github.com/eaglebank/transfer-saga/shared/redis"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
)

const sagaViewKeyPrefix = "saga:view:"

const sagaColumns = `saga_id, pattern_type, from_account_id, to_account_number, amount, status, created_at, updated_at`

// SagaRepository reads and transitions saga records. Sagas in a final
// status never change again, so they are served from the Redis view cache
// once read.
type SagaRepository struct {
	db    *sql.DB
	cache *sharedredis.ViewCache[models.SagaState]
}

func NewSagaRepository(db *sql.DB, redisClient *goredis.Client) *SagaRepository {
	r := &SagaRepository{db: db}
	if redisClient != nil {
		r.cache = sharedredis.NewViewCache[models.SagaState](redisClient, sagaViewKeyPrefix, 24*time.Hour)
	}
	return r
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaga(row rowScanner) (*models.SagaState, error) {
	var s models.SagaState
	err := row.Scan(
		&s.SagaID, &s.PatternType, &s.FromAccountID, &s.ToAccountNumber,
		&s.Amount, &s.Status, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SagaRepository) Get(ctx context.Context, sagaID string) (*models.SagaState, error) {
	if s, ok := r.cache.Get(ctx, sagaID); ok {
		return s, nil
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+sagaColumns+` FROM saga_states WHERE saga_id = $1`, sagaID)
	s, err := scanSaga(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, saga.ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saga: %w", err)
	}

	if saga.IsFinal(s.Status) {
		r.cache.Set(ctx, sagaID, s)
	}
	return s, nil
}

// Transition applies to only when the current status is one of from.
func (r *SagaRepository) Transition(ctx context.Context, sagaID string, to models.SagaStatus, from []models.SagaStatus) (*models.SagaState, error) {
	query := `
		UPDATE saga_states
		SET status = $2, updated_at = $3
		WHERE saga_id = $1 AND status = ANY($4)
		RETURNING ` + sagaColumns
	row := r.db.QueryRowContext(ctx, query, sagaID, to, time.Now().UTC(), pq.Array(saga.StatusStrings(from)))
	s, err := scanSaga(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition saga to %s: %w", to, err)
	}
	return s, nil
}

// ListByStatus returns sagas in status whose last update is before cutoff,
// oldest first.
func (r *SagaRepository) ListByStatus(ctx context.Context, status models.SagaStatus, cutoff time.Time, limit int) ([]models.SagaState, error) {
	query := `
		SELECT ` + sagaColumns + `
		FROM saga_states
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sagas: %w", err)
	}
	defer rows.Close()

	sagas := []models.SagaState{}
	for rows.Next() {
		s, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan saga: %w", err)
		}
		sagas = append(sagas, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sagas: %w", err)
	}
	return sagas, nil
}
