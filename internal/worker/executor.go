package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/handler"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// OutcomeKind — итог одной попытки.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeFailed
	OutcomeTimedOut
	OutcomeCancelled
	OutcomeInterrupted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome — результат попытки выполнения.
type Outcome struct {
	Kind OutcomeKind

	// Result — то, что вернул handler (может быть nil).
	Result *domain.JobResult

	// Err — причина неуспеха. nil для OutcomeCompleted.
	Err error

	// Duration — время от запуска handler до результата.
	Duration time.Duration
}

// ErrorMessage возвращает текст ошибки для сохранения в job.
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Config — конфигурация Executor.
type Config struct {
	Registry *handler.Registry
	Logger   *slog.Logger
}

// Executor выполняет одну попытку job.
type Executor struct {
	registry *handler.Registry
	logger   *slog.Logger
}

// NewExecutor создаёт Executor. Без Registry используется handler.Defaults().
func NewExecutor(cfg Config) *Executor {
	registry := cfg.Registry
	if registry == nil {
		registry = handler.Defaults()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger}
}

// Registry возвращает реестр handler'ов.
func (e *Executor) Registry() *handler.Registry {
	return e.registry
}

type handlerResult struct {
	result *domain.JobResult
	err    error
}

// Execute запускает handler job и ждёт результата.
//
// timeout <= 0 означает отсутствие таймаута. Причину отмены ctx
// Execute читает через context.Cause (ErrCancelRequested, ErrShutdown).
// Handler получает логгер job через telemetry.FromContext.
func (e *Executor) Execute(ctx context.Context, job *domain.Job, timeout time.Duration) Outcome {
	start := time.Now()

	h, err := e.registry.Resolve(job.Type)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	logger := telemetry.WithJobID(e.logger, job.ID)
	runCtx, cancel := context.WithCancelCause(telemetry.WithLogger(ctx, logger))
	defer cancel(nil)

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	// Буфер 1: брошенный handler не блокируется на отправке
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panicked",
					"job_type", job.Type,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- handlerResult{err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)}
			}
		}()
		result, err := h.Handle(runCtx, job)
		done <- handlerResult{result: result, err: err}
	}()

	select {
	case r := <-done:
		return e.classify(ctx, r, time.Since(start))

	case <-deadline:
		cancel(ErrExecutionTimeout)
		return Outcome{
			Kind:     OutcomeTimedOut,
			Err:      fmt.Errorf("%w after %s", ErrExecutionTimeout, timeout),
			Duration: time.Since(start),
		}

	case <-ctx.Done():
	}

	cause := context.Cause(ctx)
	if !errors.Is(cause, ErrCancelRequested) {
		return Outcome{Kind: OutcomeInterrupted, Err: cause, Duration: time.Since(start)}
	}

	// Отмена: даём handler'у завершиться, но не дольше таймаута
	select {
	case r := <-done:
		return e.classify(ctx, r, time.Since(start))
	case <-deadline:
		return Outcome{Kind: OutcomeCancelled, Err: ErrCancelRequested, Duration: time.Since(start)}
	}
}

// classify переводит ответ handler в Outcome с учётом причины отмены.
func (e *Executor) classify(ctx context.Context, r handlerResult, elapsed time.Duration) Outcome {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrCancelRequested):
		return Outcome{Kind: OutcomeCancelled, Result: r.result, Err: ErrCancelRequested, Duration: elapsed}
	case cause != nil && r.err != nil:
		return Outcome{Kind: OutcomeInterrupted, Result: r.result, Err: cause, Duration: elapsed}
	case r.err != nil:
		return Outcome{Kind: OutcomeFailed, Result: r.result, Err: r.err, Duration: elapsed}
	case r.result != nil && !r.result.Success:
		err := ErrUnsuccessful
		if r.result.Message != "" {
			err = fmt.Errorf("%w: %s", ErrUnsuccessful, r.result.Message)
		}
		return Outcome{Kind: OutcomeFailed, Result: r.result, Err: err, Duration: elapsed}
	default:
		result := r.result
		if result == nil {
			result = &domain.JobResult{Success: true}
		}
		return Outcome{Kind: OutcomeCompleted, Result: result, Duration: elapsed}
	}
}
