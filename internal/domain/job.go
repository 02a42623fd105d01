package domain

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Job — единица работы, адресованная очереди.
//
// Job создаётся Supervisor'ом при enqueue, а дальше изменяется
// только actor'ом своей очереди. Запись в хранилище — источник правды
// между рестартами процесса.
type Job struct {
	// ID — уникальный идентификатор job (UUID v7, сортируется по времени).
	ID uuid.UUID `json:"id"`

	// QueueID — очередь, которой принадлежит job.
	QueueID uuid.UUID `json:"queue_id"`

	// Type — имя handler'а в реестре.
	Type string `json:"job_type"`

	// Payload — входные данные. Движок их не интерпретирует,
	// формат определяет handler.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Priority — приоритет выполнения.
	Priority Priority `json:"priority"`

	// Status — текущий статус.
	Status JobStatus `json:"status"`

	// RetryCount — сколько retry уже запланировано.
	RetryCount int `json:"retry_count"`

	// MaxRetries — максимум retry после первой попытки.
	MaxRetries int `json:"max_retries"`

	// TimeoutSec — таймаут одной попытки в секундах.
	TimeoutSec float64 `json:"timeout_secs"`

	// Tags — произвольные метки для фильтрации.
	Tags []string `json:"tags,omitempty"`

	// NotBefore — job не выдаётся на выполнение раньше этого времени (backoff).
	NotBefore *time.Time `json:"not_before,omitempty"`

	// Result — результат последней успешной попытки.
	Result *JobResult `json:"result,omitempty"`

	// Error — текст ошибки последней неудачной попытки.
	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobResult — результат выполнения handler'а.
type JobResult struct {
	// Success — false означает логическую ошибку, Message становится текстом ошибки.
	Success bool `json:"success"`

	// Message — сообщение для человека.
	Message string `json:"message,omitempty"`

	// Output — структурированный результат.
	Output json.RawMessage `json:"output,omitempty"`
}

// NewJob создаёт job в статусе PENDING.
func NewJob(queueID uuid.UUID, jobType string, payload json.RawMessage, now time.Time) *Job {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return &Job{
		ID:        id,
		QueueID:   queueID,
		Type:      jobType,
		Payload:   payload,
		Priority:  PriorityNormal,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Timeout возвращает таймаут попытки.
func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutSec * float64(time.Second))
}

// Duration возвращает продолжительность последней попытки.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// IsFinished возвращает true, если job в финальном статусе.
func (j *Job) IsFinished() bool {
	return j.Status.IsTerminal()
}

// IsEligible проверяет, можно ли выдать job на выполнение в момент now.
func (j *Job) IsEligible(now time.Time) bool {
	return j.Status == JobStatusPending && (j.NotBefore == nil || !j.NotBefore.After(now))
}

// CanRetry проверяет, осталась ли ещё попытка.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// HasTag проверяет наличие метки.
func (j *Job) HasTag(tag string) bool {
	return slices.Contains(j.Tags, tag)
}

// HasAllTags проверяет, что у job есть все перечисленные метки.
func (j *Job) HasAllTags(tags []string) bool {
	for _, tag := range tags {
		if !j.HasTag(tag) {
			return false
		}
	}
	return true
}

// MarkRunning переводит job в RUNNING.
func (j *Job) MarkRunning(now time.Time) {
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.FinishedAt = nil
	j.NotBefore = nil
	j.UpdatedAt = now
}

// MarkCompleted переводит job в COMPLETED с результатом.
func (j *Job) MarkCompleted(now time.Time, result *JobResult) {
	j.Status = JobStatusCompleted
	j.Result = result
	j.Error = ""
	j.FinishedAt = &now
	j.UpdatedAt = now
}

// MarkFailed фиксирует неудачную попытку.
// FinishedAt не ставится: FAILED не финальный статус.
func (j *Job) MarkFailed(now time.Time, errMsg string) {
	j.Status = JobStatusFailed
	j.Error = errMsg
	j.UpdatedAt = now
}

// ScheduleRetry возвращает job в PENDING после задержки delay.
func (j *Job) ScheduleRetry(now time.Time, delay time.Duration) {
	notBefore := now.Add(delay)
	j.RetryCount++
	j.Status = JobStatusPending
	j.NotBefore = &notBefore
	j.UpdatedAt = now
}

// MarkArchived переводит job в ARCHIVED после исчерпания retry.
func (j *Job) MarkArchived(now time.Time) {
	j.Status = JobStatusArchived
	j.FinishedAt = &now
	j.UpdatedAt = now
}

// MarkCancelled переводит job в CANCELLED.
func (j *Job) MarkCancelled(now time.Time, reason string) {
	j.Status = JobStatusCancelled
	if reason != "" {
		j.Error = reason
	}
	j.NotBefore = nil
	j.FinishedAt = &now
	j.UpdatedAt = now
}

// ResetForRehydration возвращает зависший RUNNING job в PENDING.
// Процесс, который его выполнял, больше не существует.
func (j *Job) ResetForRehydration(now time.Time) {
	j.Status = JobStatusPending
	j.StartedAt = nil
	j.UpdatedAt = now
}

// ResetForManualRetry готовит ARCHIVED/CANCELLED job к повторному запуску оператором.
func (j *Job) ResetForManualRetry(now time.Time) {
	j.Status = JobStatusPending
	j.RetryCount = 0
	j.Error = ""
	j.Result = nil
	j.NotBefore = nil
	j.StartedAt = nil
	j.FinishedAt = nil
	j.UpdatedAt = now
}

// Clone возвращает глубокую копию job.
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = slices.Clone(j.Payload)
	}
	if j.Tags != nil {
		c.Tags = slices.Clone(j.Tags)
	}
	c.NotBefore = cloneTime(j.NotBefore)
	c.StartedAt = cloneTime(j.StartedAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	if j.Result != nil {
		r := *j.Result
		if j.Result.Output != nil {
			r.Output = slices.Clone(j.Result.Output)
		}
		c.Result = &r
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
