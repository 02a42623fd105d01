package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/events"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/worker"
	"golang.org/x/time/rate"
)

// actorSnapshot — состояние очереди, загруженное из хранилища.
type actorSnapshot struct {
	queue   *domain.Queue
	pending []domain.Job
	counts  map[domain.JobStatus]int64
	reset   int
}

// execution — выполняющийся job.
type execution struct {
	job             *domain.Job
	cancel          context.CancelCauseFunc
	cancelRequested bool
	cancelReason    string
}

// settlement — завершённая попытка, которую нужно зафиксировать.
//
// failedRecorded означает, что переход в FAILED уже сохранён и события
// опубликованы; повтор продолжает с retry или archive.
type settlement struct {
	exec           *execution
	outcome        worker.Outcome
	failedRecorded bool
}

// queueActor — владелец состояния одной очереди.
//
// Все изменения pending set, статусов и run-state выполняются в одной
// горутине (run) по порядку команд из mailbox. Handlers выполняются
// в отдельных горутинах, не больше concurrency одновременно.
type queueActor struct {
	queue   *domain.Queue
	store   repo.Store
	bus     *events.Bus
	exec    *worker.Executor
	metrics *telemetry.Metrics
	logger  *slog.Logger
	backoff Backoff
	now     func() time.Time

	persistRetry time.Duration
	storeTimeout time.Duration

	mailbox   chan command
	pending   *pendingSet
	running   map[uuid.UUID]*execution
	unsettled []*settlement
	limiter   *rate.Limiter

	wake       *time.Timer
	rateDue    time.Time
	persistDue time.Time

	execCtx    context.Context
	execCancel context.CancelCauseFunc

	stopping bool
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	onFault  func(a *queueActor, err error)

	// Статистика
	completed     int64
	archived      int64
	cancelled     int64
	durationTotal time.Duration
	durationCount int64
	completions   []time.Time
}

func newQueueActor(cfg Config, exec *worker.Executor, snap *actorSnapshot, onFault func(*queueActor, error)) *queueActor {
	q := snap.queue.Clone()
	execCtx, execCancel := context.WithCancelCause(context.Background())

	a := &queueActor{
		queue:        q,
		store:        cfg.Store,
		bus:          cfg.Bus,
		exec:         exec,
		metrics:      cfg.Metrics,
		logger:       telemetry.WithQueueID(cfg.Logger, q.ID, q.Name),
		backoff:      cfg.backoff(),
		now:          cfg.Now,
		persistRetry: cfg.PersistRetryInterval,
		storeTimeout: cfg.StoreTimeout,
		mailbox:      make(chan command, cfg.MailboxSize),
		pending:      newPendingSet(),
		running:      make(map[uuid.UUID]*execution),
		execCtx:      execCtx,
		execCancel:   execCancel,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		onFault:      onFault,
		completed:    snap.counts[domain.JobStatusCompleted],
		archived:     snap.counts[domain.JobStatusArchived],
		cancelled:    snap.counts[domain.JobStatusCancelled],
	}

	if q.Config.RateLimit != nil {
		a.limiter = rate.NewLimiter(rate.Limit(*q.Config.RateLimit), 1)
	}

	a.wake = time.NewTimer(time.Hour)
	a.wake.Stop()

	now := a.now()
	for i := range snap.pending {
		a.pending.Push(snap.pending[i].Clone(), now)
	}
	return a
}

// start запускает цикл actor'а.
func (a *queueActor) start() {
	go a.run()
}

// abort останавливает actor без ожидания выполняющихся jobs.
// Их контексты отменяются с причиной worker.ErrShutdown, сами jobs
// остаются RUNNING в хранилище до следующей регидратации.
func (a *queueActor) abort() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func (a *queueActor) run() {
	defer a.exit()

	a.logger.Info("queue actor started",
		"state", a.queue.State,
		"pending", a.pending.Len(),
	)

	for {
		a.dispatch()
		if a.stopping && len(a.running) == 0 {
			a.logger.Info("queue actor drained")
			return
		}
		a.armWake()

		select {
		case cmd := <-a.mailbox:
			cmd.apply(a)
		case <-a.wake.C:
			a.onWake()
		case <-a.quit:
			a.logger.Info("queue actor aborted", "running", len(a.running))
			return
		}
	}
}

func (a *queueActor) exit() {
	r := recover()
	a.wake.Stop()
	a.execCancel(worker.ErrShutdown)
	close(a.done)

	if r != nil {
		a.logger.Error("queue actor panicked",
			"panic", r,
			"stack", string(debug.Stack()),
		)
		if a.onFault != nil {
			a.onFault(a, fmt.Errorf("actor panic: %v", r))
		}
	}
}

// post доставляет команду, если actor ещё жив.
func (a *queueActor) post(cmd command) {
	select {
	case a.mailbox <- cmd:
	case <-a.done:
	}
}

// --- Scheduling ---

// dispatch запускает готовые jobs, пока есть свободные слоты.
func (a *queueActor) dispatch() {
	defer a.reportDepth()

	if a.stopping || a.queue.IsPaused() {
		return
	}
	now := a.now()
	if !a.persistDue.IsZero() && now.Before(a.persistDue) {
		return
	}
	if !a.rateDue.IsZero() && now.Before(a.rateDue) {
		return
	}

	a.pending.Promote(now)
	for len(a.running) < a.queue.Config.Concurrency {
		job := a.pending.Peek()
		if job == nil {
			return
		}
		token, ok := a.reserveToken(now)
		if !ok {
			return
		}
		if !a.startJob(job, now) {
			// Запуск не зафиксирован, токен возвращается лимитеру
			if token != nil {
				token.CancelAt(now)
			}
			return
		}
	}
}

// reserveToken резервирует токен rate limiter'а. Если токен будет доступен
// только позже, резерв отменяется и actor просыпается к этому моменту.
// Без лимита возвращает nil резерв.
func (a *queueActor) reserveToken(now time.Time) (*rate.Reservation, bool) {
	if a.limiter == nil {
		return nil, true
	}
	r := a.limiter.ReserveN(now, 1)
	if !r.OK() {
		return nil, false
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		a.rateDue = now.Add(delay)
		return nil, false
	}
	return r, true
}

func (a *queueActor) startJob(job *domain.Job, now time.Time) bool {
	next := job.Clone()
	next.MarkRunning(now)
	if err := a.persist(next); err != nil {
		a.persistFailed("dispatch", next.ID, err)
		return false
	}
	a.pending.Pop()

	ctx, cancel := context.WithCancelCause(a.execCtx)
	a.running[next.ID] = &execution{job: next, cancel: cancel}

	ev := domain.NewJobEvent(domain.EventJobStarted, next, now)
	ev.Attempt = next.RetryCount + 1
	a.publish(ev)

	a.logger.Debug("job started",
		"job_id", next.ID,
		"job_type", next.Type,
		"attempt", ev.Attempt,
	)

	snapshot := next.Clone()
	timeout := next.Timeout()
	go func() {
		outcome := a.exec.Execute(ctx, snapshot, timeout)
		cancel(nil)
		a.post(&jobFinished{jobID: snapshot.ID, outcome: outcome})
	}()
	return true
}

// armWake взводит таймер на ближайшее из: not_before отложенного job,
// доступность токена, повтор записи.
func (a *queueActor) armWake() {
	var next time.Time
	consider := func(t time.Time) {
		if !t.IsZero() && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}

	if due, ok := a.pending.NextDue(); ok && !a.queue.IsPaused() {
		consider(due)
	}
	consider(a.rateDue)
	consider(a.persistDue)

	if next.IsZero() {
		a.wake.Stop()
		return
	}
	a.wake.Reset(max(next.Sub(a.now()), 0))
}

func (a *queueActor) onWake() {
	a.rateDue = time.Time{}
	a.persistDue = time.Time{}

	if len(a.unsettled) == 0 {
		return
	}
	queued := a.unsettled
	a.unsettled = nil
	for i, s := range queued {
		if !a.settle(s) {
			a.unsettled = append(a.unsettled, queued[i:]...)
			return
		}
	}
}

// --- Settlement ---

// settle фиксирует результат попытки. Возвращает false, если запись
// не удалась; тогда job сохраняет слот и повторяется по таймеру.
func (a *queueActor) settle(s *settlement) bool {
	ex := s.exec
	now := a.now()

	switch {
	case s.outcome.Kind == worker.OutcomeInterrupted:
		delete(a.running, ex.job.ID)
		a.logger.Info("job interrupted", "job_id", ex.job.ID)
		return true

	case ex.cancelRequested || s.outcome.Kind == worker.OutcomeCancelled:
		return a.settleCancelled(s, now)

	case s.outcome.Kind == worker.OutcomeCompleted:
		return a.settleCompleted(s, now)

	default:
		return a.settleFailed(s, now)
	}
}

func (a *queueActor) settleCancelled(s *settlement, now time.Time) bool {
	ex := s.exec
	reason := ex.cancelReason
	if reason == "" {
		reason = cancelReasonRequested
	}

	next := ex.job.Clone()
	next.MarkCancelled(now, reason)
	if err := a.persist(next); err != nil {
		a.persistFailed("cancel", next.ID, err)
		return false
	}
	delete(a.running, next.ID)
	a.cancelled++
	a.recordTerminal(next, "cancelled")

	ev := domain.NewJobEvent(domain.EventJobCancelled, next, now)
	ev.Reason = reason
	a.publish(ev)

	a.logger.Info("job cancelled", "job_id", next.ID)
	return true
}

func (a *queueActor) settleCompleted(s *settlement, now time.Time) bool {
	ex := s.exec
	next := ex.job.Clone()
	next.MarkCompleted(now, s.outcome.Result)
	if err := a.persist(next); err != nil {
		a.persistFailed("complete", next.ID, err)
		return false
	}
	delete(a.running, next.ID)

	a.completed++
	a.durationTotal += s.outcome.Duration
	a.durationCount++
	a.completions = append(a.completions, now)
	a.metrics.ObserveDuration(a.queue.Name, s.outcome.Kind.String(), s.outcome.Duration)
	a.recordTerminal(next, "completed")

	ev := domain.NewJobEvent(domain.EventJobCompleted, next, now)
	ev.Attempt = next.RetryCount + 1
	ev.DurationMs = s.outcome.Duration.Milliseconds()
	a.publish(ev)

	a.logger.Info("job completed",
		"job_id", next.ID,
		"duration_ms", ev.DurationMs,
	)
	return true
}

func (a *queueActor) settleFailed(s *settlement, now time.Time) bool {
	ex := s.exec

	if !s.failedRecorded {
		failed := ex.job.Clone()
		failed.MarkFailed(now, s.outcome.ErrorMessage())
		if err := a.persist(failed); err != nil {
			a.persistFailed("fail", failed.ID, err)
			return false
		}
		ex.job = failed
		s.failedRecorded = true
		a.announceFailure(failed, s.outcome, now)
	}

	job := ex.job
	if job.CanRetry() {
		delay := a.backoff.Delay(job.RetryCount)
		next := job.Clone()
		next.ScheduleRetry(now, delay)
		if err := a.persist(next); err != nil {
			a.persistFailed("retry", next.ID, err)
			return false
		}
		delete(a.running, next.ID)
		a.pending.Push(next, now)
		a.metrics.JobEvent(a.queue.Name, "retried")

		ev := domain.NewJobEvent(domain.EventJobRetried, next, now)
		ev.DelayMs = delay.Milliseconds()
		ev.RetryCount = next.RetryCount
		a.publish(ev)

		a.logger.Info("job scheduled for retry",
			"job_id", next.ID,
			"retry_count", next.RetryCount,
			"delay", delay,
		)
		return true
	}

	next := job.Clone()
	next.MarkArchived(now)
	if err := a.persist(next); err != nil {
		a.persistFailed("archive", next.ID, err)
		return false
	}
	delete(a.running, next.ID)
	a.archived++
	a.recordTerminal(next, "archived")

	a.logger.Warn("job archived",
		"job_id", next.ID,
		"attempts", next.RetryCount+1,
		"error", next.Error,
	)
	return true
}

// announceFailure публикует timed_out (для таймаута) и failed.
func (a *queueActor) announceFailure(job *domain.Job, outcome worker.Outcome, now time.Time) {
	a.metrics.ObserveDuration(a.queue.Name, outcome.Kind.String(), outcome.Duration)

	cause := fmt.Errorf("%w: %w", ErrHandler, outcome.Err)
	if outcome.Kind == worker.OutcomeTimedOut {
		cause = outcome.Err
		a.metrics.JobEvent(a.queue.Name, "timed_out")

		ev := domain.NewJobEvent(domain.EventJobTimedOut, job, now)
		ev.Attempt = job.RetryCount + 1
		ev.Error = job.Error
		a.publish(ev)
	}
	a.metrics.JobEvent(a.queue.Name, "failed")

	willRetry := job.CanRetry()
	ev := domain.NewJobEvent(domain.EventJobFailed, job, now)
	ev.Attempt = job.RetryCount + 1
	ev.Error = job.Error
	ev.WillRetry = willRetry
	ev.Terminal = !willRetry
	a.publish(ev)

	a.logger.Warn("job failed",
		"job_id", job.ID,
		"attempt", ev.Attempt,
		"will_retry", willRetry,
		"error", cause,
	)
}

// recordTerminal обновляет метрики и пишет историю (best-effort).
func (a *queueActor) recordTerminal(job *domain.Job, event string) {
	a.metrics.JobEvent(a.queue.Name, event)

	ctx, cancel := context.WithTimeout(context.Background(), a.storeTimeout)
	defer cancel()
	if err := a.store.AppendHistory(ctx, domain.NewHistoryEntry(job)); err != nil {
		a.logger.Warn("failed to append history", "job_id", job.ID, "error", err)
	}
}

// --- Helpers ---

func (a *queueActor) persist(job *domain.Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.storeTimeout)
	defer cancel()
	return a.store.UpdateJob(ctx, job)
}

func (a *queueActor) persistFailed(op string, jobID uuid.UUID, err error) {
	a.logger.Error("persist failed",
		"op", op,
		"job_id", jobID,
		"retry_in", a.persistRetry,
		"error", err,
	)
	a.metrics.PersistenceError(a.queue.Name)
	a.persistDue = a.now().Add(a.persistRetry)
}

func (a *queueActor) publish(ev domain.JobEvent) {
	a.bus.Publish(ev)
}

func (a *queueActor) reportDepth() {
	a.metrics.SetQueueDepth(a.queue.Name, a.pending.Len(), len(a.running))
}

// checkCapacity проверяет max_queue_size. Считаются pending и running.
func (a *queueActor) checkCapacity() error {
	limit := a.queue.Config.MaxQueueSize
	if limit == nil {
		return nil
	}
	if size := a.pending.Len() + len(a.running); size >= *limit {
		return fmt.Errorf("%w: %s holds %d jobs (max %d)", ErrCapacity, a.queue.Name, size, *limit)
	}
	return nil
}

func (a *queueActor) stats(now time.Time) domain.QueueStats {
	cutoff := now.Add(-throughputWindow)
	i := 0
	for i < len(a.completions) && a.completions[i].Before(cutoff) {
		i++
	}
	a.completions = a.completions[i:]

	backoff := a.pending.Backoff()
	stats := domain.QueueStats{
		Pending:          int64(a.pending.Len() - backoff),
		Running:          int64(len(a.running)),
		Completed:        a.completed,
		Failed:           int64(backoff),
		Archived:         a.archived,
		Cancelled:        a.cancelled,
		ThroughputPerMin: float64(len(a.completions)),
	}
	if a.durationCount > 0 {
		avg := float64(a.durationTotal) / float64(time.Millisecond) / float64(a.durationCount)
		stats.AvgDurationMs = &avg
	}
	return stats
}
