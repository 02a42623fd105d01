package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// EnqueuePayload — payload команды enqueue из conveyor.enqueue.
type EnqueuePayload struct {
	// Queue — имя или ID очереди.
	Queue       string          `json:"queue"`
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	MaxRetries  *int            `json:"max_retries,omitempty"`
	TimeoutSecs *float64        `json:"timeout_secs,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
}

// Request преобразует payload в запрос движка.
func (p EnqueuePayload) Request() engine.EnqueueRequest {
	return engine.EnqueueRequest{
		QueueName:   p.Queue,
		JobType:     p.JobType,
		Payload:     p.Payload,
		Priority:    p.Priority,
		MaxRetries:  p.MaxRetries,
		TimeoutSecs: p.TimeoutSecs,
		Tags:        p.Tags,
	}
}

// Enqueuer ставит jobs в очередь.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, req engine.EnqueueRequest) (*domain.Job, error)
}

// NewEnqueueHandler создаёт обработчик команд enqueue.
//
// Ошибки валидации и неизвестная очередь отбрасывают сообщение,
// остальные (capacity, недоступность очереди) возвращают его в очередь.
func NewEnqueueHandler(enq Enqueuer, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, d *Delivery) error {
		if d.Message.Type != MessageTypeEnqueue {
			return Permanent(fmt.Errorf("unexpected message type %q", d.Message.Type))
		}

		payload, err := ParsePayload[EnqueuePayload](&d.Message)
		if err != nil {
			return Permanent(err)
		}

		job, err := enq.EnqueueJob(ctx, payload.Request())
		if err != nil {
			if errors.Is(err, engine.ErrValidation) || errors.Is(err, engine.ErrNotFound) {
				return Permanent(err)
			}
			return err
		}

		logger.Info("job enqueued from broker",
			"message_id", d.Message.ID,
			"job_id", job.ID,
			"queue_id", job.QueueID,
			"job_type", job.Type,
		)
		return nil
	}
}
