package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// DefaultTickInterval — период проверки расписаний.
const DefaultTickInterval = time.Second

// Enqueuer ставит job в очередь. Реализуется engine.Supervisor.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, req engine.EnqueueRequest) (*domain.Job, error)
}

// Scheduler — планировщик, ставящий jobs по расписаниям.
type Scheduler struct {
	enqueuer Enqueuer
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	schedules []*domain.Schedule
}

// Config — конфигурация Scheduler.
type Config struct {
	Enqueuer     Enqueuer
	Logger       *slog.Logger
	TickInterval time.Duration // default: 1s
	Now          func() time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		enqueuer: cfg.Enqueuer,
		logger:   logger,
		interval: interval,
		now:      now,
	}
}

// Add проверяет расписание и вычисляет первое время запуска.
func (s *Scheduler) Add(sched domain.Schedule) error {
	if err := Validate(&sched); err != nil {
		return err
	}
	next, err := CalculateNextDue(&sched, s.now())
	if err != nil {
		return err
	}
	sched.NextDueAt = &next

	s.mu.Lock()
	s.schedules = append(s.schedules, &sched)
	s.mu.Unlock()

	s.logger.Info("schedule registered",
		"schedule", sched.Name,
		"queue", sched.Queue,
		"job_type", sched.JobType,
		"next_due_at", next,
	)
	return nil
}

// Len возвращает количество расписаний.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.schedules)
}

// Schedules возвращает копии расписаний.
func (s *Scheduler) Schedules() []domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	return out
}

// Run вызывает Tick каждый интервал до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) {
	tk := time.NewTicker(s.interval)
	defer tk.Stop()

	for {
		select {
		case <-tk.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick обрабатывает due расписания и возвращает число поставленных jobs.
//
// 1. Находит due schedules (next_due_at <= now)
// 2. Для каждого ставит job в очередь
// 3. Обновляет next_due_at
//
// Ошибки одного schedule не блокируют обработку остальных. Пропущенные
// из-за ошибки запуски не догоняются.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*domain.Schedule
	for _, sched := range s.schedules {
		if sched.IsDue(now) {
			due = append(due, sched)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return 0
	}

	s.logger.Debug("found due schedules", "count", len(due))

	created := 0
	for _, sched := range due {
		job, err := s.processSchedule(ctx, sched)
		if err == nil {
			created++
		}

		nextDue, nerr := CalculateNextDue(sched, now)
		if nerr != nil {
			s.logger.Error("failed to calculate next due, disabling schedule",
				"schedule", sched.Name,
				"error", nerr,
			)
			s.mu.Lock()
			sched.NextDueAt = nil
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		if job != nil {
			sched.RecordRun(now, &job.ID, nextDue)
		} else {
			sched.RecordRun(now, nil, nextDue)
		}
		s.mu.Unlock()
	}

	s.logger.Info("scheduler tick completed",
		"due", len(due),
		"jobs_created", created,
	)
	return created
}

// processSchedule ставит один job по расписанию.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule) (*domain.Job, error) {
	job, err := s.enqueuer.EnqueueJob(ctx, engine.EnqueueRequest{
		QueueName:   sched.Queue,
		JobType:     sched.JobType,
		Payload:     sched.Payload,
		Priority:    sched.Priority,
		MaxRetries:  sched.MaxRetries,
		TimeoutSecs: sched.TimeoutSecs,
		Tags:        sched.Tags,
	})
	switch {
	case err == nil:
		s.logger.Info("enqueued job from schedule",
			"schedule", sched.Name,
			"queue", sched.Queue,
			"job_id", job.ID,
		)
		return job, nil
	case errors.Is(err, engine.ErrCapacity):
		s.logger.Warn("queue at capacity, skipping scheduled run",
			"schedule", sched.Name,
			"queue", sched.Queue,
		)
	default:
		s.logger.Error("failed to enqueue scheduled job",
			"schedule", sched.Name,
			"queue", sched.Queue,
			"error", err,
		)
	}
	return nil, fmt.Errorf("schedule %q: %w", sched.Name, err)
}
