package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/events"
	"github.com/shaiso/Conveyor/internal/handler"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/worker"
)

// QueueInfo — очередь вместе с состоянием супервизии.
type QueueInfo struct {
	domain.Queue
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// child — запись о queue actor'е.
type child struct {
	queue    *domain.Queue
	actor    *queueActor // nil, пока actor перезапускается или очередь деградировала
	restarts []time.Time
	degraded bool
	reason   string
}

// route — снимок child для маршрутизации запроса.
type route struct {
	queue    *domain.Queue
	actor    *queueActor
	degraded bool
	reason   string
}

// live возвращает actor, если он может принимать команды.
func (r route) live() (*queueActor, error) {
	if r.degraded {
		return nil, fmt.Errorf("%w: %s: %s", ErrSupervision, r.queue.Name, r.reason)
	}
	if r.actor == nil {
		return nil, fmt.Errorf("%w: %s", ErrQueueUnavailable, r.queue.Name)
	}
	return r.actor, nil
}

type fault struct {
	queueID uuid.UUID
	actor   *queueActor
	err     error
}

// Supervisor владеет queue actors и маршрутизирует к ним команды.
//
// Supervisor:
//   - Восстанавливает состояние очередей из хранилища при Start
//   - Перезапускает упавший actor с загрузкой состояния из хранилища
//   - Помечает очередь degraded, если рестарты превышают лимит в окне
//   - Отвечает на запросы с ограниченным ожиданием (RequestTimeout)
//
// Таблица children защищена RWMutex и используется только для
// маршрутизации; состояние очередей живёт в actors.
type Supervisor struct {
	cfg      Config
	store    repo.Store
	registry *handler.Registry
	bus      *events.Bus
	exec     *worker.Executor
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	children map[uuid.UUID]*child
	names    map[string]uuid.UUID
	starting bool
	started  bool
	stopping bool

	// lifecycleMu сериализует создание и перезапуск actors.
	lifecycleMu sync.Mutex

	faults     chan fault
	quit       chan struct{}
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New создаёт Supervisor. Config.Store обязателен.
func New(cfg Config) *Supervisor {
	cfg = cfg.withDefaults()

	return &Supervisor{
		cfg:      cfg,
		store:    cfg.Store,
		registry: cfg.Registry,
		bus:      cfg.Bus,
		exec:     worker.NewExecutor(worker.Config{Registry: cfg.Registry, Logger: cfg.Logger}),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
		children: make(map[uuid.UUID]*child),
		names:    make(map[string]uuid.UUID),
		faults:   make(chan fault, 64),
		quit:     make(chan struct{}),
	}
}

// Bus возвращает шину событий.
func (s *Supervisor) Bus() *events.Bus {
	return s.bus
}

// Registry возвращает реестр handler'ов.
func (s *Supervisor) Registry() *handler.Registry {
	return s.registry
}

// Start выполняет регидратацию и начинает принимать команды.
func (s *Supervisor) Start(ctx context.Context) (*RehydrationReport, error) {
	s.mu.Lock()
	if s.started || s.starting {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	s.starting = true
	s.mu.Unlock()

	report, err := s.rehydrate(ctx)
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		return report, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.faultLoop(loopCtx)
	}()

	s.mu.Lock()
	s.starting = false
	s.started = true
	s.mu.Unlock()

	s.logger.Info("supervisor started",
		"queues", report.Queues,
		"reset_jobs", report.ResetJobs,
		"archived_jobs", report.ArchivedJobs,
		"loaded_jobs", report.LoadedJobs,
		"degraded", len(report.Degraded),
	)
	return report, nil
}

// Stop останавливает все actors.
//
// Сначала actors дренируются: новые jobs не запускаются, выполняющиеся
// доводятся до конца. Если ctx истекает раньше, оставшиеся actors
// прерываются, а их jobs остаются RUNNING до следующего Start.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	actors := make([]*queueActor, 0, len(s.children))
	for _, c := range s.children {
		if c.actor != nil {
			actors = append(actors, c.actor)
		}
	}
	s.mu.Unlock()

	s.logger.Info("stopping supervisor...", "queues", len(actors))
	close(s.quit)

	for _, a := range actors {
		select {
		case a.mailbox <- stopCmd{}:
		case <-a.done:
		case <-ctx.Done():
		}
	}

	var aborted bool
	for _, a := range actors {
		select {
		case <-a.done:
		case <-ctx.Done():
			aborted = true
			for _, other := range actors {
				other.abort()
			}
			<-a.done
		}
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()

	if aborted {
		s.logger.Warn("supervisor stopped with in-flight jobs interrupted")
		return ctx.Err()
	}
	s.logger.Info("supervisor stopped")
	return nil
}

// --- Queue operations ---

// CreateQueue создаёт очередь и запускает её actor.
func (s *Supervisor) CreateQueue(ctx context.Context, req CreateQueueRequest) (*domain.Queue, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	cfg, err := req.Validate()
	if err != nil {
		return nil, err
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.RLock()
	_, exists := s.names[req.Name]
	s.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrQueueExists, req.Name)
	}

	now := s.now()
	queue := domain.NewQueue(req.Name, req.Description, cfg, now)
	if err := s.store.CreateQueue(ctx, queue); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrQueueExists, req.Name)
		}
		return nil, fmt.Errorf("%w: create queue: %w", ErrPersistence, err)
	}

	s.spawn(&actorSnapshot{queue: queue, counts: map[domain.JobStatus]int64{}})
	s.bus.Publish(domain.NewQueueEvent(domain.EventQueueCreated, queue.ID, now))

	s.logger.Info("queue created",
		"queue_id", queue.ID,
		"queue", queue.Name,
		"concurrency", cfg.Concurrency,
	)
	return queue.Clone(), nil
}

// EnsureQueue создаёт очередь, если её ещё нет. Для существующей очереди
// сохранённая запись остаётся без изменений; расхождение логируется.
func (s *Supervisor) EnsureQueue(ctx context.Context, req CreateQueueRequest) (*domain.Queue, bool, error) {
	s.mu.RLock()
	id, exists := s.names[req.Name]
	s.mu.RUnlock()

	if !exists {
		queue, err := s.CreateQueue(ctx, req)
		if err == nil {
			return queue, true, nil
		}
		if !errors.Is(err, ErrQueueExists) {
			return nil, false, err
		}
		s.mu.RLock()
		id = s.names[req.Name]
		s.mu.RUnlock()
	}

	info, err := s.GetQueue(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if cfg, err := req.Validate(); err == nil && !sameConfig(cfg, info.Config) {
		s.logger.Info("queue definition differs from persisted record, keeping persisted",
			"queue", req.Name,
		)
	}
	return &info.Queue, false, nil
}

// GetQueue возвращает очередь с актуальным run-state.
func (s *Supervisor) GetQueue(ctx context.Context, queueID uuid.UUID) (*QueueInfo, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	r, err := s.route(queueID)
	if err != nil {
		return nil, err
	}
	return s.queueInfo(ctx, r)
}

// GetQueueByName возвращает очередь по имени.
func (s *Supervisor) GetQueueByName(ctx context.Context, name string) (*QueueInfo, error) {
	s.mu.RLock()
	id, ok := s.names[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return s.GetQueue(ctx, id)
}

// LookupQueue разрешает ссылку на очередь: UUID или имя.
func (s *Supervisor) LookupQueue(ref string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, err := uuid.Parse(ref); err == nil {
		if _, ok := s.children[id]; ok {
			return id, nil
		}
	}
	if id, ok := s.names[ref]; ok {
		return id, nil
	}
	return uuid.Nil, fmt.Errorf("%w: %s", ErrQueueNotFound, ref)
}

// ListQueues возвращает все очереди, отсортированные по имени.
func (s *Supervisor) ListQueues(ctx context.Context) ([]QueueInfo, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	routes := make([]route, 0, len(s.children))
	for _, c := range s.children {
		routes = append(routes, routeOf(c))
	}
	s.mu.RUnlock()

	sort.Slice(routes, func(i, j int) bool { return routes[i].queue.Name < routes[j].queue.Name })

	infos := make([]QueueInfo, 0, len(routes))
	for _, r := range routes {
		info, err := s.queueInfo(ctx, r)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// PauseQueue останавливает запуск новых jobs очереди.
func (s *Supervisor) PauseQueue(ctx context.Context, queueID uuid.UUID) (*domain.Queue, error) {
	return s.setState(ctx, queueID, domain.QueueStatePaused)
}

// ResumeQueue возобновляет запуск jobs очереди.
func (s *Supervisor) ResumeQueue(ctx context.Context, queueID uuid.UUID) (*domain.Queue, error) {
	return s.setState(ctx, queueID, domain.QueueStateRunning)
}

func (s *Supervisor) setState(ctx context.Context, queueID uuid.UUID, state domain.QueueState) (*domain.Queue, error) {
	a, err := s.liveActor(queueID)
	if err != nil {
		return nil, err
	}
	queue, err := ask(ctx, s, a, func(ch chan reply[*domain.Queue]) command {
		return &setStateCmd{state: state, reply: ch}
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if c, ok := s.children[queueID]; ok && c.actor == a {
		c.queue = queue.Clone()
	}
	s.mu.Unlock()
	return queue, nil
}

// GetQueueStats возвращает статистику очереди. Для деградировавшей
// или перезапускающейся очереди счётчики берутся из хранилища.
func (s *Supervisor) GetQueueStats(ctx context.Context, queueID uuid.UUID) (domain.QueueStats, error) {
	if err := s.checkStarted(); err != nil {
		return domain.QueueStats{}, err
	}
	r, err := s.route(queueID)
	if err != nil {
		return domain.QueueStats{}, err
	}

	if a, err := r.live(); err == nil {
		stats, err := ask(ctx, s, a, func(ch chan reply[domain.QueueStats]) command {
			return &statsCmd{reply: ch}
		})
		if err == nil || !errors.Is(err, ErrQueueUnavailable) {
			return stats, err
		}
	}

	counts, err := s.store.CountJobs(ctx, queueID)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("%w: count jobs: %w", ErrPersistence, err)
	}
	stats := domain.StatsFromCounts(counts)
	stats.Degraded = r.degraded
	stats.DegradedReason = r.reason
	return stats, nil
}

// RestartQueue перезапускает actor очереди из хранилища и снимает degraded.
func (s *Supervisor) RestartQueue(ctx context.Context, queueID uuid.UUID) (*QueueInfo, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	c, ok := s.children[queueID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, queueID)
	}
	old := c.actor
	c.actor = nil
	s.mu.Unlock()

	if old != nil {
		old.abort()
		<-old.done
	}

	backoff := s.cfg.backoff()
	snap, err := loadSnapshot(ctx, s.store, queueID, &backoff, s.now())
	if err != nil {
		s.markDegraded(queueID, fmt.Sprintf("restart failed: %v", err))
		return nil, fmt.Errorf("%w: restart: %w", ErrSupervision, err)
	}

	s.mu.Lock()
	c.restarts = nil
	c.degraded = false
	c.reason = ""
	s.mu.Unlock()
	s.spawn(snap)

	ev := domain.NewQueueEvent(domain.EventQueueRestarted, queueID, s.now())
	ev.Reason = "manual restart"
	s.bus.Publish(ev)

	s.logger.Info("queue restarted manually",
		"queue_id", queueID,
		"reset_jobs", snap.reset,
		"pending", len(snap.pending),
	)
	return &QueueInfo{Queue: *snap.queue.Clone()}, nil
}

// DeleteQueue удаляет очередь вместе с её jobs.
//
// Actor дренируется: pending jobs не запускаются, выполняющиеся
// доводятся до конца. Если ctx истекает раньше, actor прерывается.
// Пока удаление идёт, команды очереди получают ErrQueueUnavailable.
func (s *Supervisor) DeleteQueue(ctx context.Context, queueID uuid.UUID) error {
	if err := s.checkStarted(); err != nil {
		return err
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	c, ok := s.children[queueID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queueID)
	}
	a := c.actor
	c.actor = nil
	name := c.queue.Name
	s.mu.Unlock()

	if a != nil {
		drainActor(ctx, a)
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.store.DeleteQueue(storeCtx, queueID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		s.markDegraded(queueID, fmt.Sprintf("delete failed: %v", err))
		return fmt.Errorf("%w: delete queue: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	delete(s.children, queueID)
	if s.names[name] == queueID {
		delete(s.names, name)
	}
	s.mu.Unlock()

	s.bus.Publish(domain.NewQueueEvent(domain.EventQueueDeleted, queueID, s.now()))
	s.logger.Info("queue deleted", "queue_id", queueID, "name", name)
	return nil
}

// drainActor останавливает actor и ждёт его выхода. По истечении ctx
// actor прерывается.
func drainActor(ctx context.Context, a *queueActor) {
	select {
	case a.mailbox <- stopCmd{}:
	case <-a.done:
		return
	case <-ctx.Done():
	}

	select {
	case <-a.done:
	case <-ctx.Done():
		a.abort()
		<-a.done
	}
}

// --- Job operations ---

// EnqueueJob ставит job в очередь.
func (s *Supervisor) EnqueueJob(ctx context.Context, req EnqueueRequest) (*domain.Job, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	priority, err := req.validate(s.registry)
	if err != nil {
		return nil, err
	}

	queueID := req.QueueID
	if queueID == uuid.Nil {
		if queueID, err = s.LookupQueue(req.QueueName); err != nil {
			return nil, err
		}
	}
	r, err := s.route(queueID)
	if err != nil {
		return nil, err
	}
	a, err := r.live()
	if err != nil {
		return nil, err
	}

	job := req.build(r.queue, priority, s.now())
	return ask(ctx, s, a, func(ch chan reply[*domain.Job]) command {
		return &enqueueCmd{job: job, reply: ch}
	})
}

// CancelJob отменяет pending или running job.
func (s *Supervisor) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidState, jobID, job.Status)
	}
	a, err := s.liveActor(job.QueueID)
	if err != nil {
		return err
	}
	_, err = ask(ctx, s, a, func(ch chan reply[struct{}]) command {
		return &cancelCmd{jobID: jobID, reply: ch}
	})
	return err
}

// RetryJob повторно ставит ARCHIVED или CANCELLED job в очередь
// со сброшенным retry_count.
func (s *Supervisor) RetryJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusArchived && job.Status != domain.JobStatusCancelled {
		return nil, fmt.Errorf("%w: only archived or cancelled jobs can be retried, job %s is %s",
			ErrInvalidState, jobID, job.Status)
	}
	a, err := s.liveActor(job.QueueID)
	if err != nil {
		return nil, err
	}
	return ask(ctx, s, a, func(ch chan reply[*domain.Job]) command {
		return &retryCmd{job: job, reply: ch}
	})
}

// GetJob возвращает job из хранилища.
func (s *Supervisor) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get job: %w", ErrPersistence, err)
	}
	return job, nil
}

// ListJobs возвращает jobs по фильтру.
func (s *Supervisor) ListJobs(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	jobs, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %w", ErrPersistence, err)
	}
	return jobs, nil
}

// Subscribe подписывает на события движка.
func (s *Supervisor) Subscribe(opts ...events.SubscribeOption) *events.Subscription {
	return s.bus.Subscribe(opts...)
}

// --- Supervision ---

func (s *Supervisor) faultLoop(ctx context.Context) {
	for {
		select {
		case f := <-s.faults:
			s.handleFault(ctx, f)
		case <-ctx.Done():
			return
		}
	}
}

// reportFault вызывается упавшим actor'ом из его горутины.
func (s *Supervisor) reportFault(a *queueActor, err error) {
	select {
	case s.faults <- fault{queueID: a.queue.ID, actor: a, err: err}:
	case <-s.quit:
	}
}

func (s *Supervisor) handleFault(ctx context.Context, f fault) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	now := s.now()

	s.mu.Lock()
	c, ok := s.children[f.queueID]
	if !ok || c.actor != f.actor || s.stopping {
		s.mu.Unlock()
		return
	}
	c.actor = nil

	cutoff := now.Add(-s.cfg.RestartWindow)
	recent := c.restarts[:0]
	for _, t := range c.restarts {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	c.restarts = recent

	if len(c.restarts) >= s.cfg.MaxRestarts {
		s.mu.Unlock()
		s.markDegraded(f.queueID, fmt.Sprintf("restart limit reached (%d in %s): %v",
			s.cfg.MaxRestarts, s.cfg.RestartWindow, f.err))
		return
	}
	c.restarts = append(c.restarts, now)
	attempt := len(c.restarts)
	s.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	backoff := s.cfg.backoff()
	snap, err := loadSnapshot(loadCtx, s.store, f.queueID, &backoff, now)
	if err != nil {
		s.markDegraded(f.queueID, fmt.Sprintf("restart failed: %v", err))
		return
	}
	s.spawn(snap)
	s.metrics.ActorRestarted(snap.queue.Name)

	ev := domain.NewQueueEvent(domain.EventQueueRestarted, f.queueID, s.now())
	ev.Reason = f.err.Error()
	s.bus.Publish(ev)

	s.logger.Warn("queue actor restarted",
		"queue_id", f.queueID,
		"attempt", attempt,
		"reset_jobs", snap.reset,
		"error", f.err,
	)
}

func (s *Supervisor) markDegraded(queueID uuid.UUID, reason string) {
	s.mu.Lock()
	if c, ok := s.children[queueID]; ok {
		c.actor = nil
		c.degraded = true
		c.reason = reason
	}
	s.mu.Unlock()

	ev := domain.NewQueueEvent(domain.EventQueueDegraded, queueID, s.now())
	ev.Reason = reason
	s.bus.Publish(ev)

	s.logger.Error("queue degraded", "queue_id", queueID, "reason", reason)
}

// spawn регистрирует и запускает actor для snapshot.
func (s *Supervisor) spawn(snap *actorSnapshot) *queueActor {
	a := newQueueActor(s.cfg, s.exec, snap, s.reportFault)

	s.mu.Lock()
	c, ok := s.children[snap.queue.ID]
	if !ok {
		c = &child{}
		s.children[snap.queue.ID] = c
	}
	c.queue = snap.queue.Clone()
	c.actor = a
	s.names[snap.queue.Name] = snap.queue.ID
	s.mu.Unlock()

	a.start()
	return a
}

// addDegraded регистрирует очередь, которую не удалось загрузить.
func (s *Supervisor) addDegraded(queue *domain.Queue, reason string) {
	s.mu.Lock()
	s.children[queue.ID] = &child{queue: queue.Clone(), degraded: true, reason: reason}
	s.names[queue.Name] = queue.ID
	s.mu.Unlock()

	ev := domain.NewQueueEvent(domain.EventQueueDegraded, queue.ID, s.now())
	ev.Reason = reason
	s.bus.Publish(ev)
}

// --- Helpers ---

func (s *Supervisor) checkStarted() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

func routeOf(c *child) route {
	return route{queue: c.queue, actor: c.actor, degraded: c.degraded, reason: c.reason}
}

func (s *Supervisor) route(queueID uuid.UUID) (route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.children[queueID]
	if !ok {
		return route{}, fmt.Errorf("%w: %s", ErrQueueNotFound, queueID)
	}
	return routeOf(c), nil
}

func (s *Supervisor) liveActor(queueID uuid.UUID) (*queueActor, error) {
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	r, err := s.route(queueID)
	if err != nil {
		return nil, err
	}
	return r.live()
}

func (s *Supervisor) queueInfo(ctx context.Context, r route) (*QueueInfo, error) {
	info := &QueueInfo{Queue: *r.queue.Clone(), Degraded: r.degraded, DegradedReason: r.reason}

	a, err := r.live()
	if err != nil {
		return info, nil
	}
	queue, err := ask(ctx, s, a, func(ch chan reply[*domain.Queue]) command {
		return &infoCmd{reply: ch}
	})
	if errors.Is(err, ErrQueueUnavailable) {
		return info, nil
	}
	if err != nil {
		return nil, err
	}
	info.Queue = *queue
	return info, nil
}

// ask отправляет команду actor'у и ждёт ответа не дольше RequestTimeout.
func ask[T any](ctx context.Context, s *Supervisor, a *queueActor, build func(chan reply[T]) command) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	ch := make(chan reply[T], 1)
	select {
	case a.mailbox <- build(ch):
	case <-a.done:
		return zero, fmt.Errorf("%w: %s", ErrQueueUnavailable, a.queue.Name)
	case <-ctx.Done():
		return zero, requestError(ctx)
	}

	select {
	case r := <-ch:
		return r.val, r.err
	case <-a.done:
		select {
		case r := <-ch:
			return r.val, r.err
		default:
			return zero, fmt.Errorf("%w: %s", ErrQueueUnavailable, a.queue.Name)
		}
	case <-ctx.Done():
		return zero, requestError(ctx)
	}
}

func requestError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrRequestTimeout
	}
	return ctx.Err()
}

func sameConfig(a, b domain.QueueConfig) bool {
	if a.Concurrency != b.Concurrency ||
		a.DefaultTimeoutSec != b.DefaultTimeoutSec ||
		a.JobMaxRetries() != b.JobMaxRetries() {
		return false
	}
	if (a.MaxQueueSize == nil) != (b.MaxQueueSize == nil) ||
		(a.MaxQueueSize != nil && *a.MaxQueueSize != *b.MaxQueueSize) {
		return false
	}
	if (a.RateLimit == nil) != (b.RateLimit == nil) ||
		(a.RateLimit != nil && *a.RateLimit != *b.RateLimit) {
		return false
	}
	return true
}
