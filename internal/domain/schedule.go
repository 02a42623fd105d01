package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание периодической постановки job в очередь.
//
// Schedule позволяет ставить job:
// - По cron-выражению: "0 9 * * *" (каждый день в 9:00)
// - По интервалу: каждые N секунд
//
// Scheduler проверяет NextDueAt и ставит job, когда время подошло.
// Расписания задаются в файле определений очередей и не хранятся в БД.
type Schedule struct {
	// Name — имя расписания для логов.
	Name string `json:"name,omitempty"`

	// Queue — имя очереди.
	Queue string `json:"queue"`

	// CronExpr — cron-выражение.
	// Формат: "минуты часы дни месяцы дни_недели" или дескриптор.
	// Примеры:
	//   "0 9 * * *"     — каждый день в 9:00
	//   "*/5 * * * *"   — каждые 5 минут
	//   "@every 30s"    — каждые 30 секунд
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron,omitempty"`

	// IntervalSec — интервал в секундах между запусками.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс для вычисления времени (default: UTC).
	Timezone string `json:"timezone,omitempty"`

	// Шаблон job.
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	MaxRetries  *int            `json:"max_retries,omitempty"`
	TimeoutSecs *float64        `json:"timeout_secs,omitempty"`
	Tags        []string        `json:"tags,omitempty"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — время последнего запуска.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastJobID — ID последнего поставленного job.
	LastJobID *uuid.UUID `json:"last_job_id,omitempty"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание использует интервал.
func (s *Schedule) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// RecordRun записывает информацию о запуске. jobID может быть nil,
// если постановка не удалась.
func (s *Schedule) RecordRun(now time.Time, jobID *uuid.UUID, nextDue time.Time) {
	s.LastRunAt = &now
	if jobID != nil {
		id := *jobID
		s.LastJobID = &id
	}
	s.NextDueAt = &nextDue
}
