package engine

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/handler"
)

const maxQueueNameLen = 128

// CreateQueueRequest — запрос на создание очереди.
//
// Нулевые Concurrency и DefaultTimeoutSec заменяются значениями по умолчанию.
type CreateQueueRequest struct {
	Name        string
	Description string
	Config      domain.QueueConfig
}

// Validate проверяет запрос и возвращает конфигурацию с умолчаниями.
func (r CreateQueueRequest) Validate() (domain.QueueConfig, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return domain.QueueConfig{}, newValidationError("name", "is required")
	}
	if name != r.Name {
		return domain.QueueConfig{}, newValidationError("name", "must not have leading or trailing spaces")
	}
	if len(name) > maxQueueNameLen {
		return domain.QueueConfig{}, newValidationError("name", "must be at most %d characters", maxQueueNameLen)
	}
	if _, err := uuid.Parse(name); err == nil {
		return domain.QueueConfig{}, newValidationError("name", "must not be a UUID")
	}

	cfg := r.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return domain.QueueConfig{}, newValidationError("config", "%v", err)
	}
	return cfg, nil
}

// EnqueueRequest — запрос на постановку job в очередь.
//
// Очередь задаётся QueueID или QueueName. Необязательные поля
// берутся из конфигурации очереди.
type EnqueueRequest struct {
	QueueID   uuid.UUID
	QueueName string

	JobType string
	Payload json.RawMessage

	// Priority — low, normal, high, critical (default: normal).
	Priority string

	MaxRetries  *int
	TimeoutSecs *float64
	Tags        []string
}

// validate проверяет поля, не зависящие от очереди.
func (r EnqueueRequest) validate(registry *handler.Registry) (domain.Priority, error) {
	if r.QueueID == uuid.Nil && r.QueueName == "" {
		return 0, newValidationError("queue", "is required")
	}
	if r.JobType == "" {
		return 0, newValidationError("job_type", "is required")
	}
	if !registry.Has(r.JobType) {
		return 0, newValidationError("job_type", "no handler registered for %q", r.JobType)
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return 0, newValidationError("payload", "must be valid JSON")
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return 0, newValidationError("max_retries", "must be >= 0, got %d", *r.MaxRetries)
	}
	if r.TimeoutSecs != nil && *r.TimeoutSecs <= 0 {
		return 0, newValidationError("timeout_secs", "must be > 0, got %v", *r.TimeoutSecs)
	}
	for _, tag := range r.Tags {
		if strings.TrimSpace(tag) == "" {
			return 0, newValidationError("tags", "must not contain empty tags")
		}
	}

	priority, err := domain.ParsePriority(r.Priority)
	if err != nil {
		return 0, newValidationError("priority", "%v", err)
	}
	return priority, nil
}

// build создаёт job с учётом умолчаний очереди.
func (r EnqueueRequest) build(queue *domain.Queue, priority domain.Priority, now time.Time) *domain.Job {
	payload := r.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	job := domain.NewJob(queue.ID, r.JobType, append(json.RawMessage(nil), payload...), now)
	job.Priority = priority
	job.MaxRetries = queue.Config.JobMaxRetries()
	if r.MaxRetries != nil {
		job.MaxRetries = *r.MaxRetries
	}
	job.TimeoutSec = queue.Config.DefaultTimeoutSec
	if r.TimeoutSecs != nil {
		job.TimeoutSec = *r.TimeoutSecs
	}
	if len(r.Tags) > 0 {
		job.Tags = dedupeTags(r.Tags)
	}
	return job
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}
