package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Имена встроенных типов job.
const (
	TypeEcho  = "echo"
	TypeSleep = "sleep"
	TypeFail  = "fail"
	TypeHTTP  = "http"
)

// EchoHandler возвращает payload как output.
type EchoHandler struct{}

// Handle возвращает payload без изменений.
func (h *EchoHandler) Handle(_ context.Context, job *domain.Job) (*domain.JobResult, error) {
	output := job.Payload
	if len(output) == 0 {
		output = json.RawMessage("null")
	}
	return &domain.JobResult{
		Success: true,
		Message: "echo",
		Output:  output,
	}, nil
}

// SleepHandler ждёт указанное время. Поддерживает отмену через context.
//
// Payload:
//   - seconds (number): длительность в секундах (default: 1)
type SleepHandler struct{}

type sleepPayload struct {
	Seconds *float64 `json:"seconds"`
}

// Handle выполняет задержку.
func (h *SleepHandler) Handle(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	var p sleepPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return nil, err
	}

	seconds := 1.0
	if p.Seconds != nil {
		seconds = *p.Seconds
	}
	if seconds < 0 {
		return nil, fmt.Errorf("%w: seconds must be >= 0", ErrInvalidPayload)
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		output, _ := json.Marshal(map[string]any{"slept_sec": seconds})
		return &domain.JobResult{
			Success: true,
			Message: fmt.Sprintf("slept %gs", seconds),
			Output:  output,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FailHandler падает, если в payload "fail": true. Нужен для проверки retry.
//
// Payload:
//   - fail (bool): упасть (default: false)
//   - message (string): текст ошибки
type FailHandler struct{}

type failPayload struct {
	Fail    bool   `json:"fail"`
	Message string `json:"message"`
}

// Handle возвращает ошибку или успех в зависимости от payload.
func (h *FailHandler) Handle(_ context.Context, job *domain.Job) (*domain.JobResult, error) {
	var p failPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return nil, err
	}

	if p.Fail {
		if p.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrForcedFailure, p.Message)
		}
		return nil, ErrForcedFailure
	}

	return &domain.JobResult{Success: true, Message: "did not fail"}, nil
}

// decodePayload разбирает payload в v. Пустой payload и null допустимы.
func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
