package engine

import (
	"errors"
	"fmt"

	"github.com/shaiso/Conveyor/internal/worker"
)

// Ошибки движка.
var (
	// ErrValidation — некорректный запрос.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound — очередь или job не найдены.
	ErrNotFound = errors.New("not found")

	// ErrQueueNotFound — очередь не найдена.
	ErrQueueNotFound = fmt.Errorf("queue %w", ErrNotFound)

	// ErrJobNotFound — job не найден.
	ErrJobNotFound = fmt.Errorf("job %w", ErrNotFound)

	// ErrCapacity — очередь заполнена (max_queue_size).
	ErrCapacity = errors.New("queue at capacity")

	// ErrInvalidState — операция невозможна в текущем статусе.
	ErrInvalidState = errors.New("invalid state")

	// ErrTimeout — handler не уложился в таймаут.
	ErrTimeout = worker.ErrExecutionTimeout

	// ErrHandler — handler вернул ошибку.
	ErrHandler = errors.New("handler failed")

	// ErrPersistence — хранилище недоступно или вернуло ошибку.
	ErrPersistence = errors.New("persistence failed")

	// ErrSupervision — очередь деградировала после повторных падений.
	ErrSupervision = errors.New("queue degraded")
)

// Ошибки супервизора.
var (
	// ErrQueueExists — очередь с таким именем уже есть.
	ErrQueueExists = errors.New("queue already exists")

	// ErrQueueUnavailable — actor очереди не работает (перезапуск или остановка).
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrRequestTimeout — actor не ответил за RequestTimeout.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrNotStarted — Start ещё не вызван или не завершён.
	ErrNotStarted = errors.New("supervisor not started")

	// ErrAlreadyStarted — повторный Start.
	ErrAlreadyStarted = errors.New("supervisor already started")
)

// ValidationError — ошибка валидации с указанием поля.
type ValidationError struct {
	Field   string // поле запроса
	Message string // описание ошибки
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// Unwrap позволяет проверять errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
