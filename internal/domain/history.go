package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry — запись истории о job, дошедшем до финального статуса.
type HistoryEntry struct {
	ID         uuid.UUID `json:"id"`
	JobID      uuid.UUID `json:"job_id"`
	QueueID    uuid.UUID `json:"queue_id"`
	JobType    string    `json:"job_type"`
	Status     JobStatus `json:"status"`
	Attempts   int       `json:"attempts"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewHistoryEntry строит запись истории из финального состояния job.
func NewHistoryEntry(job *Job) *HistoryEntry {
	finished := job.UpdatedAt
	if job.FinishedAt != nil {
		finished = *job.FinishedAt
	}

	attempts := job.RetryCount
	if job.StartedAt != nil || job.Status == JobStatusArchived {
		attempts++
	}

	return &HistoryEntry{
		ID:         uuid.New(),
		JobID:      job.ID,
		QueueID:    job.QueueID,
		JobType:    job.Type,
		Status:     job.Status,
		Attempts:   attempts,
		DurationMs: job.Duration().Milliseconds(),
		Error:      job.Error,
		FinishedAt: finished,
	}
}
