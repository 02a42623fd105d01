package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// Queue DTOs

// CreateQueueRequest — запрос на создание очереди.
type CreateQueueRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Config      domain.QueueConfig `json:"config"`
}

// ToEngine конвертирует запрос в engine.CreateQueueRequest.
func (r CreateQueueRequest) ToEngine() engine.CreateQueueRequest {
	return engine.CreateQueueRequest{
		Name:        r.Name,
		Description: r.Description,
		Config:      r.Config,
	}
}

// QueueResponse — ответ с очередью.
type QueueResponse struct {
	ID             uuid.UUID          `json:"id"`
	Name           string             `json:"name"`
	Description    string             `json:"description,omitempty"`
	State          domain.QueueState  `json:"state"`
	Config         domain.QueueConfig `json:"config"`
	Degraded       bool               `json:"degraded"`
	DegradedReason string             `json:"degraded_reason,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// QueueFromDomain конвертирует domain.Queue в QueueResponse.
func QueueFromDomain(q domain.Queue) QueueResponse {
	return QueueResponse{
		ID:          q.ID,
		Name:        q.Name,
		Description: q.Description,
		State:       q.State,
		Config:      q.Config,
		CreatedAt:   q.CreatedAt,
		UpdatedAt:   q.UpdatedAt,
	}
}

// QueueFromInfo конвертирует engine.QueueInfo в QueueResponse.
func QueueFromInfo(info engine.QueueInfo) QueueResponse {
	resp := QueueFromDomain(info.Queue)
	resp.Degraded = info.Degraded
	resp.DegradedReason = info.DegradedReason
	return resp
}

// Job DTOs

// EnqueueJobRequest — запрос на постановку job в очередь.
type EnqueueJobRequest struct {
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	MaxRetries  *int            `json:"max_retries,omitempty"`
	TimeoutSecs *float64        `json:"timeout_secs,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
}

// ToEngine конвертирует запрос в engine.EnqueueRequest для очереди queueID.
func (r EnqueueJobRequest) ToEngine(queueID uuid.UUID) engine.EnqueueRequest {
	return engine.EnqueueRequest{
		QueueID:     queueID,
		JobType:     r.JobType,
		Payload:     r.Payload,
		Priority:    r.Priority,
		MaxRetries:  r.MaxRetries,
		TimeoutSecs: r.TimeoutSecs,
		Tags:        r.Tags,
	}
}

// JobResponse — ответ с job.
type JobResponse struct {
	ID         uuid.UUID         `json:"id"`
	QueueID    uuid.UUID         `json:"queue_id"`
	JobType    string            `json:"job_type"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Priority   domain.Priority   `json:"priority"`
	Status     domain.JobStatus  `json:"status"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
	TimeoutSec float64           `json:"timeout_secs"`
	Tags       []string          `json:"tags,omitempty"`
	NotBefore  *time.Time        `json:"not_before,omitempty"`
	Result     *domain.JobResult `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j domain.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		QueueID:    j.QueueID,
		JobType:    j.Type,
		Payload:    j.Payload,
		Priority:   j.Priority,
		Status:     j.Status,
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		TimeoutSec: j.TimeoutSec,
		Tags:       j.Tags,
		NotBefore:  j.NotBefore,
		Result:     j.Result,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}
