package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// HistoryRepo — репозиторий истории завершённых jobs.
type HistoryRepo struct {
	pool *pgxpool.Pool
}

// NewHistoryRepo создаёт новый HistoryRepo.
func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

// Append добавляет запись истории.
func (r *HistoryRepo) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	query := `
		INSERT INTO job_history (id, job_id, queue_id, job_type, status, attempts, duration_ms, error, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.JobID,
		entry.QueueID,
		entry.JobType,
		string(entry.Status),
		entry.Attempts,
		entry.DurationMs,
		nullString(entry.Error),
		entry.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}
