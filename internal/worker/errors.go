package worker

import "errors"

// Ошибки выполнения.
var (
	// ErrExecutionTimeout — попытка превысила таймаут job.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrHandlerPanic — handler запаниковал.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrUnsuccessful — handler вернул результат с Success=false.
	ErrUnsuccessful = errors.New("handler reported failure")
)

// Причины отмены контекста выполнения.
var (
	// ErrCancelRequested — отмена job пользователем.
	ErrCancelRequested = errors.New("cancel requested")

	// ErrShutdown — остановка очереди или процесса.
	ErrShutdown = errors.New("shutting down")
)
