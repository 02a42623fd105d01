package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип события жизненного цикла.
type EventType string

// События jobs.
const (
	EventJobCreated   EventType = "job.created"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetried   EventType = "job.retried"
	EventJobCancelled EventType = "job.cancelled"
	EventJobTimedOut  EventType = "job.timed_out"
)

// События очередей.
const (
	EventQueueCreated      EventType = "queue.created"
	EventQueueStateChanged EventType = "queue.state_changed"
	EventQueueDegraded     EventType = "queue.degraded"
	EventQueueRestarted    EventType = "queue.restarted"
	EventQueueDeleted      EventType = "queue.deleted"
)

// EventStreamGap — подписчик не успевал читать, Missed событий потеряно.
// Отправляется только отстающему подписчику.
const EventStreamGap EventType = "stream.gap"

// JobEvent — неизменяемый факт о переходе job или очереди.
// Заполнены только поля, относящиеся к типу события.
type JobEvent struct {
	Type      EventType `json:"type"`
	JobID     uuid.UUID `json:"job_id,omitzero"`
	QueueID   uuid.UUID `json:"queue_id,omitzero"`
	Timestamp time.Time `json:"timestamp"`

	// job.started, job.failed: номер попытки (с 1).
	Attempt int `json:"attempt,omitempty"`

	// job.completed: длительность выполнения.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// job.failed, job.timed_out: текст ошибки.
	Error string `json:"error,omitempty"`

	// job.failed: будет ли retry / финальная ли это ошибка.
	WillRetry bool `json:"will_retry,omitempty"`
	Terminal  bool `json:"terminal,omitempty"`

	// job.retried: задержка до следующей попытки и новый retry_count.
	DelayMs    int64 `json:"delay_ms,omitempty"`
	RetryCount int   `json:"retry_count,omitempty"`
	Manual     bool  `json:"manual,omitempty"`

	// job.cancelled, queue.degraded: причина.
	Reason string `json:"reason,omitempty"`

	// queue.state_changed: новое состояние.
	State QueueState `json:"state,omitempty"`

	// stream.gap: сколько событий потеряно.
	Missed int64 `json:"missed,omitempty"`
}

// NewJobEvent создаёт событие для job.
func NewJobEvent(t EventType, job *Job, now time.Time) JobEvent {
	return JobEvent{
		Type:      t,
		JobID:     job.ID,
		QueueID:   job.QueueID,
		Timestamp: now,
	}
}

// NewQueueEvent создаёт событие для очереди.
func NewQueueEvent(t EventType, queueID uuid.UUID, now time.Time) JobEvent {
	return JobEvent{
		Type:      t,
		QueueID:   queueID,
		Timestamp: now,
	}
}
