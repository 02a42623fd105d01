package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// postgresSchema — схема БД. Все операторы идемпотентны.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS queues (
		id          uuid PRIMARY KEY,
		name        text NOT NULL UNIQUE,
		description text NOT NULL DEFAULT '',
		state       text NOT NULL,
		config      jsonb NOT NULL,
		created_at  timestamptz NOT NULL,
		updated_at  timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id           uuid PRIMARY KEY,
		queue_id     uuid NOT NULL REFERENCES queues(id) ON DELETE CASCADE,
		job_type     text NOT NULL,
		payload      jsonb,
		priority     smallint NOT NULL,
		status       text NOT NULL,
		retry_count  integer NOT NULL DEFAULT 0,
		max_retries  integer NOT NULL,
		timeout_secs double precision NOT NULL,
		tags         text[] NOT NULL DEFAULT '{}',
		not_before   timestamptz,
		result       jsonb,
		error        text,
		created_at   timestamptz NOT NULL,
		updated_at   timestamptz NOT NULL,
		started_at   timestamptz,
		finished_at  timestamptz
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_queue_status_idx ON jobs (queue_id, status)`,
	`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status)`,
	`CREATE INDEX IF NOT EXISTS jobs_tags_idx ON jobs USING gin (tags)`,
	`CREATE TABLE IF NOT EXISTS job_history (
		id          uuid PRIMARY KEY,
		job_id      uuid NOT NULL,
		queue_id    uuid NOT NULL,
		job_type    text NOT NULL,
		status      text NOT NULL,
		attempts    integer NOT NULL,
		duration_ms bigint NOT NULL,
		error       text,
		finished_at timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS job_history_job_idx ON job_history (job_id)`,
}

// PostgresStore — Store поверх PostgreSQL.
type PostgresStore struct {
	pool    *pgxpool.Pool
	queues  *QueueRepo
	jobs    *JobRepo
	history *HistoryRepo
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore создаёт Store поверх пула соединений.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		queues:  NewQueueRepo(pool),
		jobs:    NewJobRepo(pool),
		history: NewHistoryRepo(pool),
	}
}

// Migrate создаёт таблицы и индексы, если их ещё нет.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateQueue(ctx context.Context, queue *domain.Queue) error {
	return s.queues.Create(ctx, queue)
}

func (s *PostgresStore) GetQueue(ctx context.Context, id uuid.UUID) (*domain.Queue, error) {
	return s.queues.GetByID(ctx, id)
}

func (s *PostgresStore) GetQueueByName(ctx context.Context, name string) (*domain.Queue, error) {
	return s.queues.GetByName(ctx, name)
}

func (s *PostgresStore) UpdateQueue(ctx context.Context, queue *domain.Queue) error {
	return s.queues.Update(ctx, queue)
}

func (s *PostgresStore) ListQueues(ctx context.Context) ([]domain.Queue, error) {
	return s.queues.List(ctx)
}

func (s *PostgresStore) DeleteQueue(ctx context.Context, id uuid.UUID) error {
	return s.queues.Delete(ctx, id)
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.Job) error {
	return s.jobs.Create(ctx, job)
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	return s.jobs.Update(ctx, job)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	return s.jobs.List(ctx, filter)
}

func (s *PostgresStore) CountJobs(ctx context.Context, queueID uuid.UUID) (map[domain.JobStatus]int64, error) {
	return s.jobs.CountByStatus(ctx, queueID)
}

func (s *PostgresStore) AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	return s.history.Append(ctx, entry)
}

// Close закрывает пул соединений.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}

// nullInt возвращает nil для нуля.
func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}
