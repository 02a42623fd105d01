package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// MemoryStore — Store в памяти процесса.
//
// Данные не переживают рестарт. Используется в тестах и для локального
// запуска без БД. Все значения копируются на входе и выходе.
type MemoryStore struct {
	mu      sync.RWMutex
	queues  map[uuid.UUID]*domain.Queue
	jobs    map[uuid.UUID]*domain.Job
	history []domain.HistoryEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues: make(map[uuid.UUID]*domain.Queue),
		jobs:   make(map[uuid.UUID]*domain.Job),
	}
}

func (s *MemoryStore) CreateQueue(_ context.Context, queue *domain.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range s.queues {
		if q.Name == queue.Name {
			return fmt.Errorf("%w: queue %q", ErrAlreadyExists, queue.Name)
		}
	}
	if _, ok := s.queues[queue.ID]; ok {
		return fmt.Errorf("%w: queue %s", ErrAlreadyExists, queue.ID)
	}
	s.queues[queue.ID] = queue.Clone()
	return nil
}

func (s *MemoryStore) GetQueue(_ context.Context, id uuid.UUID) (*domain.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queues[id]
	if !ok {
		return nil, ErrNotFound
	}
	return q.Clone(), nil
}

func (s *MemoryStore) GetQueueByName(_ context.Context, name string) (*domain.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, q := range s.queues {
		if q.Name == name {
			return q.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateQueue(_ context.Context, queue *domain.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.queues[queue.ID]
	if !ok {
		return ErrNotFound
	}
	updated := queue.Clone()
	updated.Name = existing.Name
	updated.CreatedAt = existing.CreatedAt
	s.queues[queue.ID] = updated
	return nil
}

func (s *MemoryStore) ListQueues(_ context.Context) ([]domain.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queues := make([]domain.Queue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, *q.Clone())
	}
	sort.Slice(queues, func(i, j int) bool { return queues[i].Name < queues[j].Name })
	return queues, nil
}

func (s *MemoryStore) DeleteQueue(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[id]; !ok {
		return ErrNotFound
	}
	delete(s.queues, id)
	for jobID, job := range s.jobs {
		if job.QueueID == id {
			delete(s.jobs, jobID)
		}
	}
	return nil
}

func (s *MemoryStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[job.QueueID]; !ok {
		return fmt.Errorf("create job: queue %s: %w", job.QueueID, ErrNotFound)
	}
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s", ErrAlreadyExists, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}

	// Неизменяемые поля сохраняются как при вставке
	updated := job.Clone()
	updated.QueueID = existing.QueueID
	updated.Type = existing.Type
	updated.Payload = existing.Payload
	updated.Priority = existing.Priority
	updated.MaxRetries = existing.MaxRetries
	updated.TimeoutSec = existing.TimeoutSec
	updated.Tags = existing.Tags
	updated.CreatedAt = existing.CreatedAt
	s.jobs[job.ID] = updated
	return nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []domain.Job
	for _, job := range s.jobs {
		if filter.Matches(job) {
			jobs = append(jobs, *job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID.String() < jobs[j].ID.String()
	})
	return paginate(jobs, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) CountJobs(_ context.Context, queueID uuid.UUID) (map[domain.JobStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.JobStatus]int64)
	for _, job := range s.jobs {
		if job.QueueID == queueID {
			counts[job.Status]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, entry *domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *entry)
	return nil
}

// History возвращает копию истории.
func (s *MemoryStore) History() []domain.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.HistoryEntry(nil), s.history...)
}

func (s *MemoryStore) Close() error {
	return nil
}
