package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Значения конфигурации очереди по умолчанию.
const (
	DefaultConcurrency = 4
	DefaultTimeoutSec  = 300
	DefaultMaxRetries  = 3
)

// Queue — именованная очередь jobs со своими лимитами и состоянием.
type Queue struct {
	// ID — уникальный идентификатор очереди.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя очереди.
	Name string `json:"name"`

	// Description — описание для людей.
	Description string `json:"description,omitempty"`

	// State — RUNNING или PAUSED.
	State QueueState `json:"state"`

	// Config — лимиты и значения по умолчанию для jobs.
	Config QueueConfig `json:"config"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueConfig — настройки очереди.
type QueueConfig struct {
	// Concurrency — максимум одновременно выполняемых jobs (>= 1).
	Concurrency int `json:"concurrency"`

	// DefaultTimeoutSec — таймаут job, если он не задан при enqueue.
	DefaultTimeoutSec float64 `json:"default_timeout_secs"`

	// DefaultMaxRetries — max_retries job, если он не задан при enqueue.
	// Nil — значение по умолчанию (3), явный 0 отключает повторы.
	DefaultMaxRetries *int `json:"default_max_retries,omitempty"`

	// MaxQueueSize — лимит на количество активных jobs (pending + running).
	// Nil — без лимита.
	MaxQueueSize *int `json:"max_queue_size,omitempty"`

	// RateLimit — максимум запусков в секунду. Nil — без лимита.
	RateLimit *float64 `json:"rate_limit,omitempty"`
}

// DefaultQueueConfig возвращает конфигурацию по умолчанию.
func DefaultQueueConfig() QueueConfig {
	retries := DefaultMaxRetries
	return QueueConfig{
		Concurrency:       DefaultConcurrency,
		DefaultTimeoutSec: DefaultTimeoutSec,
		DefaultMaxRetries: &retries,
	}
}

// WithDefaults заполняет нулевые поля значениями по умолчанию.
func (c QueueConfig) WithDefaults() QueueConfig {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.DefaultTimeoutSec == 0 {
		c.DefaultTimeoutSec = DefaultTimeoutSec
	}
	retries := c.JobMaxRetries()
	c.DefaultMaxRetries = &retries
	return c
}

// JobMaxRetries возвращает max_retries для job без явного значения.
func (c QueueConfig) JobMaxRetries() int {
	if c.DefaultMaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.DefaultMaxRetries
}

// Validate проверяет диапазоны значений.
func (c QueueConfig) Validate() error {
	var errs []error

	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency))
	}
	if c.DefaultTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("default_timeout_secs must be > 0, got %v", c.DefaultTimeoutSec))
	}
	if c.DefaultMaxRetries != nil && *c.DefaultMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("default_max_retries must be >= 0, got %d", *c.DefaultMaxRetries))
	}
	if c.MaxQueueSize != nil && *c.MaxQueueSize < 1 {
		errs = append(errs, fmt.Errorf("max_queue_size must be >= 1, got %d", *c.MaxQueueSize))
	}
	if c.RateLimit != nil && *c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit must be > 0, got %v", *c.RateLimit))
	}

	return errors.Join(errs...)
}

// Clone возвращает копию конфигурации без общих указателей.
func (c QueueConfig) Clone() QueueConfig {
	if c.DefaultMaxRetries != nil {
		v := *c.DefaultMaxRetries
		c.DefaultMaxRetries = &v
	}
	if c.MaxQueueSize != nil {
		v := *c.MaxQueueSize
		c.MaxQueueSize = &v
	}
	if c.RateLimit != nil {
		v := *c.RateLimit
		c.RateLimit = &v
	}
	return c
}

// NewQueue создаёт очередь в состоянии RUNNING.
func NewQueue(name, description string, cfg QueueConfig, now time.Time) *Queue {
	return &Queue{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		State:       QueueStateRunning,
		Config:      cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsPaused возвращает true для очереди на паузе.
func (q *Queue) IsPaused() bool {
	return q.State == QueueStatePaused
}

// Clone возвращает копию очереди.
func (q *Queue) Clone() *Queue {
	c := *q
	c.Config = q.Config.Clone()
	return &c
}

// QueueStats — агрегированная статистика очереди. Не хранится в БД,
// считается actor'ом.
type QueueStats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Archived  int64 `json:"archived"`
	Cancelled int64 `json:"cancelled"`

	// AvgDurationMs — среднее время успешного выполнения. Nil, если завершённых jobs нет.
	AvgDurationMs *float64 `json:"avg_duration_ms,omitempty"`

	// ThroughputPerMin — завершения за последнюю минуту.
	ThroughputPerMin float64 `json:"throughput_per_min"`

	// Degraded — очередь недоступна после серии сбоев actor'а.
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// StatsFromCounts строит статистику из количества jobs по статусам.
func StatsFromCounts(counts map[JobStatus]int64) QueueStats {
	return QueueStats{
		Pending:   counts[JobStatusPending],
		Running:   counts[JobStatusRunning],
		Completed: counts[JobStatusCompleted],
		Failed:    counts[JobStatusFailed],
		Archived:  counts[JobStatusArchived],
		Cancelled: counts[JobStatusCancelled],
	}
}
