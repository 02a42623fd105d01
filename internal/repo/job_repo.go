package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// JobRepo — репозиторий для работы с jobs.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

const jobColumns = `id, queue_id, job_type, payload, priority, status, retry_count, max_retries,
	timeout_secs, tags, not_before, result, error, created_at, updated_at, started_at, finished_at`

// Create создаёт новый job.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.QueueID,
		job.Type,
		nullJSON(job.Payload),
		int16(job.Priority),
		string(job.Status),
		job.RetryCount,
		job.MaxRetries,
		job.TimeoutSec,
		nonNilTags(job.Tags),
		job.NotBefore,
		resultJSON,
		nullString(job.Error),
		job.CreatedAt,
		job.UpdatedAt,
		job.StartedAt,
		job.FinishedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: job %s", ErrAlreadyExists, job.ID)
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// Update обновляет изменяемые поля job.
func (r *JobRepo) Update(ctx context.Context, job *domain.Job) error {
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs
		SET status = $2, retry_count = $3, not_before = $4, result = $5, error = $6,
		    updated_at = $7, started_at = $8, finished_at = $9
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.RetryCount,
		job.NotBefore,
		resultJSON,
		nullString(job.Error),
		job.UpdatedAt,
		job.StartedAt,
		job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает jobs по фильтру.
func (r *JobRepo) List(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE ($1::uuid IS NULL OR queue_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text[] IS NULL OR tags @> $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.QueueID),
		nullString(string(filter.Status)),
		nullTags(filter.Tags),
		nullInt(filter.Limit),
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CountByStatus возвращает количество jobs очереди по статусам.
func (r *JobRepo) CountByStatus(ctx context.Context, queueID uuid.UUID) (map[domain.JobStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM jobs WHERE queue_id = $1 GROUP BY status
	`, queueID)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.JobStatus(status)] = count
	}
	return counts, rows.Err()
}

// --- Helpers ---

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var payloadJSON, resultJSON []byte
	var priority int16
	var status string
	var jobError *string
	var notBefore, startedAt, finishedAt *time.Time

	err := row.Scan(
		&job.ID,
		&job.QueueID,
		&job.Type,
		&payloadJSON,
		&priority,
		&status,
		&job.RetryCount,
		&job.MaxRetries,
		&job.TimeoutSec,
		&job.Tags,
		&notBefore,
		&resultJSON,
		&jobError,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&finishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Priority = domain.Priority(priority)
	job.Status = domain.JobStatus(status)
	job.NotBefore = notBefore
	job.StartedAt = startedAt
	job.FinishedAt = finishedAt
	if payloadJSON != nil {
		job.Payload = json.RawMessage(payloadJSON)
	}
	if resultJSON != nil {
		var result domain.JobResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &result
	}
	if jobError != nil {
		job.Error = *jobError
	}
	if len(job.Tags) == 0 {
		job.Tags = nil
	}

	return &job, nil
}

func marshalResult(result *domain.JobResult) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

// nullJSON возвращает nil для пустого payload.
func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// nullTags возвращает nil для пустого фильтра по меткам.
func nullTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
