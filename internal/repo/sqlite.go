package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shaiso/Conveyor/internal/domain"
)

// DefaultSQLitePath — файл БД по умолчанию.
const DefaultSQLitePath = "conveyor.db"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS queues (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		state       TEXT NOT NULL,
		config      TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		queue_id     TEXT NOT NULL REFERENCES queues(id) ON DELETE CASCADE,
		job_type     TEXT NOT NULL,
		payload      TEXT,
		priority     INTEGER NOT NULL,
		status       TEXT NOT NULL,
		retry_count  INTEGER NOT NULL DEFAULT 0,
		max_retries  INTEGER NOT NULL,
		timeout_secs REAL NOT NULL,
		tags         TEXT NOT NULL DEFAULT '[]',
		not_before   TEXT,
		result       TEXT,
		error        TEXT,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		started_at   TEXT,
		finished_at  TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_queue_status_idx ON jobs (queue_id, status)`,
	`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status)`,
	`CREATE TABLE IF NOT EXISTS job_history (
		id          TEXT PRIMARY KEY,
		job_id      TEXT NOT NULL,
		queue_id    TEXT NOT NULL,
		job_type    TEXT NOT NULL,
		status      TEXT NOT NULL,
		attempts    INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error       TEXT,
		finished_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS job_history_job_idx ON job_history (job_id)`,
}

// SQLiteStore — Store поверх SQLite (один файл, без сервера).
//
// Время хранится строкой RFC3339 в UTC, метки — JSON-массивом.
// Фильтр по меткам применяется после выборки.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite открывает (или создаёт) файл БД и применяет схему.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = DefaultSQLitePath
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Один writer: SQLite сериализует запись на уровне файла
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate создаёт таблицы и индексы, если их ещё нет.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateQueue(ctx context.Context, queue *domain.Queue) error {
	configJSON, err := json.Marshal(queue.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queues (id, name, description, state, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		queue.ID.String(),
		queue.Name,
		queue.Description,
		string(queue.State),
		string(configJSON),
		formatTime(queue.CreatedAt),
		formatTime(queue.UpdatedAt),
	)
	if isSQLiteConstraint(err) {
		return fmt.Errorf("%w: queue %q", ErrAlreadyExists, queue.Name)
	}
	if err != nil {
		return fmt.Errorf("insert queue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetQueue(ctx context.Context, id uuid.UUID) (*domain.Queue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queues WHERE id = ?`, id.String())
	return scanSQLiteQueue(row)
}

func (s *SQLiteStore) GetQueueByName(ctx context.Context, name string) (*domain.Queue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queues WHERE name = ?`, name)
	return scanSQLiteQueue(row)
}

func (s *SQLiteStore) UpdateQueue(ctx context.Context, queue *domain.Queue) error {
	configJSON, err := json.Marshal(queue.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE queues SET description = ?, state = ?, config = ?, updated_at = ?
		WHERE id = ?
	`,
		queue.Description,
		string(queue.State),
		string(configJSON),
		formatTime(queue.UpdatedAt),
		queue.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update queue: %w", err)
	}
	return checkAffected(result)
}

func (s *SQLiteStore) ListQueues(ctx context.Context) ([]domain.Queue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+queueColumns+` FROM queues ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var queues []domain.Queue
	for rows.Next() {
		queue, err := scanSQLiteQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, *queue)
	}
	return queues, rows.Err()
}

// DeleteQueue удаляет очередь. Jobs удаляются каскадом (_foreign_keys=on).
func (s *SQLiteStore) DeleteQueue(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM queues WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete queue: %w", err)
	}
	return checkAffected(result)
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.Job) error {
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(nonNilTags(job.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID.String(),
		job.QueueID.String(),
		job.Type,
		nullText(job.Payload),
		int(job.Priority),
		string(job.Status),
		job.RetryCount,
		job.MaxRetries,
		job.TimeoutSec,
		string(tagsJSON),
		formatTimePtr(job.NotBefore),
		nullText(resultJSON),
		nullString(job.Error),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
		formatTimePtr(job.StartedAt),
		formatTimePtr(job.FinishedAt),
	)
	if isSQLiteConstraint(err) {
		return fmt.Errorf("%w: job %s", ErrAlreadyExists, job.ID)
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String())
	return scanSQLiteJob(row)
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, retry_count = ?, not_before = ?, result = ?, error = ?,
		    updated_at = ?, started_at = ?, finished_at = ?
		WHERE id = ?
	`,
		string(job.Status),
		job.RetryCount,
		formatTimePtr(job.NotBefore),
		nullText(resultJSON),
		nullString(job.Error),
		formatTime(job.UpdatedAt),
		formatTimePtr(job.StartedAt),
		formatTimePtr(job.FinishedAt),
		job.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return checkAffected(result)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	var (
		conds []string
		args  []any
	)
	if filter.QueueID != nil && *filter.QueueID != uuid.Nil {
		conds = append(conds, "queue_id = ?")
		args = append(args, filter.QueueID.String())
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		if job.HasAllTags(filter.Tags) {
			jobs = append(jobs, *job)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return paginate(jobs, filter.Limit, filter.Offset), nil
}

func (s *SQLiteStore) CountJobs(ctx context.Context, queueID uuid.UUID) (map[domain.JobStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE queue_id = ? GROUP BY status`, queueID.String())
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

func (s *SQLiteStore) AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_history (id, job_id, queue_id, job_type, status, attempts, duration_ms, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID.String(),
		entry.JobID.String(),
		entry.QueueID.String(),
		entry.JobType,
		string(entry.Status),
		entry.Attempts,
		entry.DurationMs,
		nullString(entry.Error),
		formatTime(entry.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Close закрывает БД.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Helpers ---

// sqlScanner — общий интерфейс *sql.Row и *sql.Rows.
type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteQueue(row sqlScanner) (*domain.Queue, error) {
	var queue domain.Queue
	var id, state, configJSON, createdAt, updatedAt string

	err := row.Scan(&id, &queue.Name, &queue.Description, &state, &configJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}

	if queue.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse queue id: %w", err)
	}
	queue.State = domain.QueueState(state)
	if err := json.Unmarshal([]byte(configJSON), &queue.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if queue.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if queue.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &queue, nil
}

func scanSQLiteJob(row sqlScanner) (*domain.Job, error) {
	var job domain.Job
	var (
		id, queueID, status, tagsJSON, createdAt, updatedAt string
		payload, result, jobError                           sql.NullString
		notBefore, startedAt, finishedAt                    sql.NullString
		priority                                            int
	)

	err := row.Scan(
		&id,
		&queueID,
		&job.Type,
		&payload,
		&priority,
		&status,
		&job.RetryCount,
		&job.MaxRetries,
		&job.TimeoutSec,
		&tagsJSON,
		&notBefore,
		&result,
		&jobError,
		&createdAt,
		&updatedAt,
		&startedAt,
		&finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if job.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	if job.QueueID, err = uuid.Parse(queueID); err != nil {
		return nil, fmt.Errorf("parse queue id: %w", err)
	}
	job.Priority = domain.Priority(priority)
	job.Status = domain.JobStatus(status)
	if payload.Valid {
		job.Payload = json.RawMessage(payload.String)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &job.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if len(job.Tags) == 0 {
		job.Tags = nil
	}
	if result.Valid {
		var r domain.JobResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &r
	}
	if jobError.Valid {
		job.Error = jobError.String
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if job.NotBefore, err = parseNullTime(notBefore); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// nullText возвращает nil для пустого JSON, иначе строку.
func nullText(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

// sqliteTimeLayout — RFC3339 с фиксированной точностью, чтобы строки
// сортировались так же, как время.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
