package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Store — порт хранилища очередей и jobs.
//
// Движок работает только через этот интерфейс. Реализации:
// PostgresStore (pgx), SQLiteStore (go-sqlite3), MemoryStore.
//
// Реализации обязаны быть безопасны для одновременного использования
// из нескольких actors.
type Store interface {
	// CreateQueue сохраняет новую очередь. ErrAlreadyExists при конфликте имени.
	CreateQueue(ctx context.Context, queue *domain.Queue) error

	// GetQueue возвращает очередь по ID. ErrNotFound, если нет.
	GetQueue(ctx context.Context, id uuid.UUID) (*domain.Queue, error)

	// GetQueueByName возвращает очередь по имени. ErrNotFound, если нет.
	GetQueueByName(ctx context.Context, name string) (*domain.Queue, error)

	// UpdateQueue обновляет описание, состояние и конфигурацию.
	UpdateQueue(ctx context.Context, queue *domain.Queue) error

	// ListQueues возвращает все очереди, отсортированные по имени.
	ListQueues(ctx context.Context) ([]domain.Queue, error)

	// DeleteQueue удаляет очередь вместе с её jobs. История сохраняется.
	// ErrNotFound, если нет.
	DeleteQueue(ctx context.Context, id uuid.UUID) error

	// CreateJob сохраняет новый job.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob возвращает job по ID. ErrNotFound, если нет.
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// UpdateJob сохраняет изменяемые поля job.
	UpdateJob(ctx context.Context, job *domain.Job) error

	// ListJobs возвращает jobs по фильтру, по возрастанию created_at.
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)

	// CountJobs возвращает количество jobs очереди по статусам.
	CountJobs(ctx context.Context, queueID uuid.UUID) (map[domain.JobStatus]int64, error)

	// AppendHistory добавляет запись истории.
	AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error

	// Close освобождает ресурсы.
	Close() error
}

// JobFilter — параметры фильтрации jobs.
type JobFilter struct {
	// QueueID — только jobs этой очереди.
	QueueID *uuid.UUID

	// Status — только jobs в этом статусе.
	Status domain.JobStatus

	// Tags — job должен иметь все перечисленные метки.
	Tags []string

	// Limit — максимум записей (0 — без лимита).
	Limit int

	// Offset — пропустить первые N записей.
	Offset int
}

// Matches проверяет job на соответствие фильтру без учёта Limit/Offset.
func (f JobFilter) Matches(job *domain.Job) bool {
	if f.QueueID != nil && *f.QueueID != uuid.Nil && job.QueueID != *f.QueueID {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	return job.HasAllTags(f.Tags)
}

// paginate применяет Offset и Limit к уже отфильтрованному списку.
func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
