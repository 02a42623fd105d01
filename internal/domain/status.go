package domain

// JobStatus — статус job.
//
// Жизненный цикл:
//
//	(created) → PENDING → RUNNING → COMPLETED
//	                    ↘ FAILED → PENDING (retry, пока retry_count < max_retries)
//	                             ↘ ARCHIVED (retry исчерпаны)
//	PENDING | RUNNING → CANCELLED
type JobStatus string

const (
	// JobStatusPending — job ждёт выполнения (возможно, с not_before после backoff).
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning — job выполняется handler'ом.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusCompleted — job успешно завершён.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed — попытка завершилась ошибкой, решение о retry ещё не принято.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusArchived — retry исчерпаны, job больше не выполняется.
	JobStatusArchived JobStatus = "ARCHIVED"

	// JobStatusCancelled — job отменён.
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusArchived, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusArchived, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// QueueState — состояние очереди.
//
//	RUNNING ⇄ PAUSED
type QueueState string

const (
	// QueueStateRunning — очередь выдаёт jobs на выполнение.
	QueueStateRunning QueueState = "RUNNING"

	// QueueStatePaused — новые jobs не запускаются, текущие доработают.
	QueueStatePaused QueueState = "PAUSED"
)

// IsValid проверяет, что состояние известно.
func (s QueueState) IsValid() bool {
	return s == QueueStateRunning || s == QueueStatePaused
}
