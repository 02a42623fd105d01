package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/events"
	"github.com/shaiso/Conveyor/internal/handler"
	"github.com/shaiso/Conveyor/internal/repo"
)

const eventTimeout = 5 * time.Second

var errStoreDown = errors.New("store down")

// flakyStore — MemoryStore с управляемыми отказами.
type flakyStore struct {
	*repo.MemoryStore
	failUpdates atomic.Bool
	failQueue   uuid.UUID
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: repo.NewMemoryStore()}
}

func (s *flakyStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	if s.failUpdates.Load() {
		return errStoreDown
	}
	return s.MemoryStore.UpdateJob(ctx, job)
}

func (s *flakyStore) ListJobs(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	if filter.QueueID != nil && *filter.QueueID == s.failQueue {
		return nil, errStoreDown
	}
	return s.MemoryStore.ListJobs(ctx, filter)
}

// panicCmd роняет actor.
type panicCmd struct{}

func (panicCmd) apply(*queueActor) { panic("induced crash") }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(store repo.Store, registry *handler.Registry) Config {
	logger := discardLogger()
	return Config{
		Store:                store,
		Registry:             registry,
		Bus:                  events.NewBus(events.Config{Logger: logger}),
		RetryBaseDelay:       10 * time.Millisecond,
		RetryMaxDelay:        40 * time.Millisecond,
		PersistRetryInterval: 20 * time.Millisecond,
		RequestTimeout:       2 * time.Second,
		Logger:               logger,
	}
}

// testRegistry — встроенные handlers плюс "block", который ждёт отмены.
func testRegistry() *handler.Registry {
	r := handler.Defaults()
	r.RegisterFunc("block", func(ctx context.Context, _ *domain.Job) (*domain.JobResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	return r
}

func startSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()

	s := New(cfg)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func createQueue(t *testing.T, s *Supervisor, name string, cfg domain.QueueConfig) *domain.Queue {
	t.Helper()

	queue, err := s.CreateQueue(context.Background(), CreateQueueRequest{Name: name, Config: cfg})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return queue
}

func enqueue(t *testing.T, s *Supervisor, req EnqueueRequest) *domain.Job {
	t.Helper()

	job, err := s.EnqueueJob(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return job
}

// waitEvent читает события, пока match не вернёт true.
func waitEvent(t *testing.T, sub *events.Subscription, match func(domain.JobEvent) bool) domain.JobEvent {
	t.Helper()

	timer := time.NewTimer(eventTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-sub.C():
			if match(ev) {
				return ev
			}
		case <-timer.C:
			t.Fatal("timed out waiting for event")
			return domain.JobEvent{}
		}
	}
}

// collectUntil возвращает все события вплоть до первого, для которого match вернул true.
func collectUntil(t *testing.T, sub *events.Subscription, match func(domain.JobEvent) bool) []domain.JobEvent {
	t.Helper()

	var seen []domain.JobEvent
	waitEvent(t, sub, func(ev domain.JobEvent) bool {
		seen = append(seen, ev)
		return match(ev)
	})
	return seen
}

func isEvent(typ domain.EventType, jobID uuid.UUID) func(domain.JobEvent) bool {
	return func(ev domain.JobEvent) bool {
		return ev.Type == typ && ev.JobID == jobID
	}
}

func isTerminalFailure(jobID uuid.UUID) func(domain.JobEvent) bool {
	return func(ev domain.JobEvent) bool {
		return ev.Type == domain.EventJobFailed && ev.JobID == jobID && ev.Terminal
	}
}

func getJob(t *testing.T, s *Supervisor, id uuid.UUID) *domain.Job {
	t.Helper()

	job, err := s.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return job
}

func crash(t *testing.T, s *Supervisor, queueID uuid.UUID) {
	t.Helper()

	s.mu.RLock()
	c, ok := s.children[queueID]
	var a *queueActor
	if ok {
		a = c.actor
	}
	s.mu.RUnlock()
	if a == nil {
		t.Fatal("queue has no live actor")
	}
	a.mailbox <- panicCmd{}
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

// --- Lifecycle Tests ---

func TestSupervisor_NotStarted(t *testing.T) {
	s := New(testConfig(repo.NewMemoryStore(), testRegistry()))

	_, err := s.EnqueueJob(context.Background(), EnqueueRequest{QueueName: "q", JobType: "echo"})
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestSupervisor_StartTwice(t *testing.T) {
	s := startSupervisor(t, testConfig(repo.NewMemoryStore(), testRegistry()))

	if _, err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

// --- Queue Tests ---

func TestSupervisor_CreateQueue(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)
	ctx := context.Background()

	queue := createQueue(t, s, "emails", domain.QueueConfig{Concurrency: 2})
	if queue.State != domain.QueueStateRunning {
		t.Errorf("expected RUNNING, got %s", queue.State)
	}
	if queue.Config.DefaultTimeoutSec != domain.DefaultTimeoutSec {
		t.Errorf("expected default timeout, got %v", queue.Config.DefaultTimeoutSec)
	}

	ev := waitEvent(t, sub, func(ev domain.JobEvent) bool { return ev.Type == domain.EventQueueCreated })
	if ev.QueueID != queue.ID {
		t.Errorf("expected queue.created for %s, got %s", queue.ID, ev.QueueID)
	}

	_, err := s.CreateQueue(ctx, CreateQueueRequest{Name: "emails"})
	if !errors.Is(err, ErrQueueExists) {
		t.Errorf("expected ErrQueueExists, got %v", err)
	}

	_, err = s.CreateQueue(ctx, CreateQueueRequest{Name: "bad", Config: domain.QueueConfig{Concurrency: -1}})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	byName, err := s.GetQueueByName(ctx, "emails")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byName.ID != queue.ID {
		t.Error("GetQueueByName returned wrong queue")
	}

	for _, ref := range []string{"emails", queue.ID.String()} {
		id, err := s.LookupQueue(ref)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != queue.ID {
			t.Errorf("LookupQueue(%q) returned %s", ref, id)
		}
	}
	if _, err := s.LookupQueue("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSupervisor_ListQueuesSorted(t *testing.T) {
	s := startSupervisor(t, testConfig(repo.NewMemoryStore(), testRegistry()))

	createQueue(t, s, "zeta", domain.QueueConfig{})
	createQueue(t, s, "alpha", domain.QueueConfig{})

	queues, err := s.ListQueues(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queues) != 2 || queues[0].Name != "alpha" || queues[1].Name != "zeta" {
		t.Errorf("unexpected queues: %+v", queues)
	}
}

func TestSupervisor_EnsureQueue(t *testing.T) {
	s := startSupervisor(t, testConfig(repo.NewMemoryStore(), testRegistry()))
	ctx := context.Background()

	first, created, err := s.EnsureQueue(ctx, CreateQueueRequest{Name: "reports", Config: domain.QueueConfig{Concurrency: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected queue to be created")
	}

	second, created, err := s.EnsureQueue(ctx, CreateQueueRequest{Name: "reports", Config: domain.QueueConfig{Concurrency: 8}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected existing queue")
	}
	if second.ID != first.ID || second.Config.Concurrency != 1 {
		t.Errorf("persisted queue should win, got concurrency %d", second.Config.Concurrency)
	}
}

func TestSupervisor_DeleteQueue(t *testing.T) {
	store := repo.NewMemoryStore()
	cfg := testConfig(store, testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)

	queue := createQueue(t, s, "gone", domain.QueueConfig{Concurrency: 1})
	running := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "sleep", Payload: []byte(`{"seconds":0.05}`)})
	waiting := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})
	waitEvent(t, sub, isEvent(domain.EventJobStarted, running.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.DeleteQueue(ctx, queue.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := collectUntil(t, sub, func(ev domain.JobEvent) bool {
		return ev.Type == domain.EventQueueDeleted && ev.QueueID == queue.ID
	})
	var completed bool
	for _, ev := range seen {
		if ev.Type == domain.EventJobCompleted && ev.JobID == running.ID {
			completed = true
		}
		if ev.Type == domain.EventJobStarted && ev.JobID == waiting.ID {
			t.Errorf("pending job started while queue was draining")
		}
	}
	if !completed {
		t.Errorf("expected running job to finish before deletion")
	}

	if _, err := s.GetQueue(context.Background(), queue.ID); !errors.Is(err, ErrQueueNotFound) {
		t.Errorf("expected ErrQueueNotFound, got %v", err)
	}
	if _, err := s.LookupQueue("gone"); !errors.Is(err, ErrQueueNotFound) {
		t.Errorf("expected ErrQueueNotFound by name, got %v", err)
	}
	if _, err := s.EnqueueJob(context.Background(), EnqueueRequest{QueueID: queue.ID, JobType: "echo"}); !errors.Is(err, ErrQueueNotFound) {
		t.Errorf("expected ErrQueueNotFound on enqueue, got %v", err)
	}
	for _, id := range []uuid.UUID{running.ID, waiting.ID} {
		if _, err := store.GetJob(context.Background(), id); !errors.Is(err, repo.ErrNotFound) {
			t.Errorf("job %s: expected repo.ErrNotFound, got %v", id, err)
		}
	}

	// Имя можно занять снова
	reborn := createQueue(t, s, "gone", domain.QueueConfig{})
	if reborn.ID == queue.ID {
		t.Errorf("expected a new queue ID")
	}
}

func TestSupervisor_DeleteQueueAbortsOnDeadline(t *testing.T) {
	store := repo.NewMemoryStore()
	cfg := testConfig(store, testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)

	queue := createQueue(t, s, "stuck", domain.QueueConfig{})
	job := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "block"})
	waitEvent(t, sub, isEvent(domain.EventJobStarted, job.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.DeleteQueue(ctx, queue.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.GetQueue(context.Background(), queue.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("expected queue removed from store, got %v", err)
	}
	queues, err := s.ListQueues(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queues) != 0 {
		t.Errorf("expected no queues, got %d", len(queues))
	}
}

func TestSupervisor_DeleteUnknownQueue(t *testing.T) {
	s := startSupervisor(t, testConfig(repo.NewMemoryStore(), testRegistry()))

	err := s.DeleteQueue(context.Background(), uuid.New())
	if !errors.Is(err, ErrQueueNotFound) {
		t.Errorf("expected ErrQueueNotFound, got %v", err)
	}
}

// --- Enqueue Tests ---

func TestSupervisor_EnqueueErrors(t *testing.T) {
	s := startSupervisor(t, testConfig(repo.NewMemoryStore(), testRegistry()))
	createQueue(t, s, "q", domain.QueueConfig{})
	ctx := context.Background()

	_, err := s.EnqueueJob(ctx, EnqueueRequest{QueueName: "missing", JobType: "echo"})
	if !errors.Is(err, ErrQueueNotFound) {
		t.Errorf("expected ErrQueueNotFound, got %v", err)
	}

	_, err = s.EnqueueJob(ctx, EnqueueRequest{QueueName: "q", JobType: "unknown"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestSupervisor_EnqueueAndComplete(t *testing.T) {
	store := repo.NewMemoryStore()
	cfg := testConfig(store, testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)

	createQueue(t, s, "q", domain.QueueConfig{})
	job := enqueue(t, s, EnqueueRequest{QueueName: "q", JobType: "echo", Payload: []byte(`{"hello":"world"}`)})
	if job.Status != domain.JobStatusPending {
		t.Errorf("expected PENDING, got %s", job.Status)
	}

	seen := collectUntil(t, sub, isEvent(domain.EventJobCompleted, job.ID))

	var order []domain.EventType
	for _, ev := range seen {
		if ev.JobID == job.ID {
			order = append(order, ev.Type)
		}
	}
	want := []domain.EventType{domain.EventJobCreated, domain.EventJobStarted, domain.EventJobCompleted}
	if len(order) != len(want) {
		t.Fatalf("expected events %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], order[i])
		}
	}

	stored := getJob(t, s, job.ID)
	if stored.Status != domain.JobStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", stored.Status)
	}
	if stored.Result == nil || string(stored.Result.Output) != `{"hello":"world"}` {
		t.Errorf("unexpected result: %+v", stored.Result)
	}
	if stored.StartedAt == nil || stored.FinishedAt == nil {
		t.Error("StartedAt and FinishedAt should be set")
	}

	history := store.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].JobID != job.ID || history[0].Status != domain.JobStatusCompleted || history[0].Attempts != 1 {
		t.Errorf("unexpected history entry: %+v", history[0])
	}
}

// --- Scheduling Tests ---

func TestSupervisor_PriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	registry := testRegistry()
	registry.RegisterFunc("record", func(_ context.Context, job *domain.Job) (*domain.JobResult, error) {
		mu.Lock()
		order = append(order, job.Priority.String())
		mu.Unlock()
		return nil, nil
	})

	cfg := testConfig(repo.NewMemoryStore(), registry)
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)
	ctx := context.Background()

	queue := createQueue(t, s, "ordered", domain.QueueConfig{Concurrency: 1})
	if _, err := s.PauseQueue(ctx, queue.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, p := range []string{"low", "normal", "critical", "high", "normal"} {
		enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "record", Priority: p})
	}

	if _, err := s.ResumeQueue(ctx, queue.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	completed := 0
	waitEvent(t, sub, func(ev domain.JobEvent) bool {
		if ev.Type == domain.EventJobCompleted {
			completed++
		}
		return completed == 5
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"critical", "high", "normal", "normal", "low"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestSupervisor_ConcurrencyBound(t *testing.T) {
	var active, peak atomic.Int32

	registry := testRegistry()
	registry.RegisterFunc("work", func(_ context.Context, _ *domain.Job) (*domain.JobResult, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	})

	cfg := testConfig(repo.NewMemoryStore(), registry)
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)

	queue := createQueue(t, s, "bounded", domain.QueueConfig{Concurrency: 2})
	for range 6 {
		enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "work"})
	}

	completed := 0
	waitEvent(t, sub, func(ev domain.JobEvent) bool {
		if ev.Type == domain.EventJobCompleted {
			completed++
		}
		return completed == 6
	})

	if got := peak.Load(); got > 2 {
		t.Errorf("expected at most 2 concurrent jobs, got %d", got)
	}
}

func TestSupervisor_PauseResume(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)
	ctx := context.Background()

	queue := createQueue(t, s, "pausable", domain.QueueConfig{})
	paused, err := s.PauseQueue(ctx, queue.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paused.State != domain.QueueStatePaused {
		t.Errorf("expected PAUSED, got %s", paused.State)
	}

	ev := waitEvent(t, sub, func(ev domain.JobEvent) bool { return ev.Type == domain.EventQueueStateChanged })
	if ev.State != domain.QueueStatePaused {
		t.Errorf("expected state PAUSED in event, got %s", ev.State)
	}

	// Повторная пауза — no-op
	if _, err := s.PauseQueue(ctx, queue.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})
	time.Sleep(50 * time.Millisecond)

	stats, err := s.GetQueueStats(ctx, queue.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Pending != 1 || stats.Running != 0 {
		t.Errorf("expected 1 pending 0 running, got %+v", stats)
	}

	info, err := s.GetQueue(ctx, queue.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.State != domain.QueueStatePaused {
		t.Errorf("expected PAUSED, got %s", info.State)
	}

	if _, err := s.ResumeQueue(ctx, queue.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitEvent(t, sub, isEvent(domain.EventJobCompleted, job.ID))
}

func TestSupervisor_Capacity(t *testing.T) {
	store := repo.NewMemoryStore()
	cfg := testConfig(store, testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)
	ctx := context.Background()

	queue := createQueue(t, s, "small", domain.QueueConfig{MaxQueueSize: intPtr(1)})
	if _, err := s.PauseQueue(ctx, queue.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	accepted := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})

	_, err := s.EnqueueJob(ctx, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})
	if !errors.Is(err, ErrCapacity) {
		t.Errorf("expected ErrCapacity, got %v", err)
	}

	pending, err := store.ListJobs(ctx, repo.JobFilter{QueueID: &queue.ID, Status: domain.JobStatusPending})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != accepted.ID {
		t.Errorf("expected only the accepted job to be persisted, got %d pending", len(pending))
	}

	// События actor'а публикуются до ответа, поэтому все они уже в буфере
	created := 0
	for {
		select {
		case ev := <-sub.C():
			if ev.Type == domain.EventJobCreated {
				created++
				if ev.JobID != accepted.ID {
					t.Errorf("job.created published for rejected job %s", ev.JobID)
				}
			}
			continue
		default:
		}
		break
	}
	if created != 1 {
		t.Errorf("expected 1 job.created event, got %d", created)
	}
}

func TestSupervisor_RateLimit(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)

	queue := createQueue(t, s, "limited", domain.QueueConfig{Concurrency: 4, RateLimit: floatPtr(20)})

	start := time.Now()
	for range 3 {
		enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})
	}

	started := 0
	waitEvent(t, sub, func(ev domain.JobEvent) bool {
		if ev.Type == domain.EventJobStarted {
			started++
		}
		return started == 3
	})

	// 20/s с burst 1: третий запуск не раньше чем через ~100ms
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("expected starts to be spaced by rate limit, all started in %v", elapsed)
	}
}

// --- Retry Tests ---

func TestSupervisor_RetryThenArchive(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)

	queue := createQueue(t, s, "flaky", domain.QueueConfig{})
	job := enqueue(t, s, EnqueueRequest{
		QueueID:    queue.ID,
		JobType:    "fail",
		Payload:    []byte(`{"fail":true,"message":"boom"}`),
		MaxRetries: intPtr(3),
	})

	seen := collectUntil(t, sub, isTerminalFailure(job.ID))

	var failed, retried int
	var delays []int64
	for _, ev := range seen {
		if ev.JobID != job.ID {
			continue
		}
		switch ev.Type {
		case domain.EventJobFailed:
			failed++
		case domain.EventJobRetried:
			retried++
			delays = append(delays, ev.DelayMs)
			if ev.RetryCount != retried {
				t.Errorf("retry %d: expected retry_count %d, got %d", retried, retried, ev.RetryCount)
			}
		}
	}
	if failed != 4 {
		t.Errorf("expected 4 failed events, got %d", failed)
	}
	if retried != 3 {
		t.Errorf("expected 3 retried events, got %d", retried)
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("retry delays must not decrease: %v", delays)
		}
	}

	stored := getJob(t, s, job.ID)
	if stored.Status != domain.JobStatusArchived {
		t.Errorf("expected ARCHIVED, got %s", stored.Status)
	}
	if stored.RetryCount != 3 {
		t.Errorf("expected retry_count 3, got %d", stored.RetryCount)
	}
	if stored.Error == "" {
		t.Error("expected error to be recorded")
	}

	stats, err := s.GetQueueStats(context.Background(), queue.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Archived != 1 {
		t.Errorf("expected 1 archived, got %d", stats.Archived)
	}
}

func TestSupervisor_NoRetries(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)

	queue := createQueue(t, s, "once", domain.QueueConfig{})
	job := enqueue(t, s, EnqueueRequest{
		QueueID:    queue.ID,
		JobType:    "fail",
		Payload:    []byte(`{"fail":true}`),
		MaxRetries: intPtr(0),
	})

	seen := collectUntil(t, sub, isTerminalFailure(job.ID))
	for _, ev := range seen {
		if ev.Type == domain.EventJobRetried && ev.JobID == job.ID {
			t.Error("job with max_retries=0 must not be retried")
		}
	}

	if stored := getJob(t, s, job.ID); stored.Status != domain.JobStatusArchived {
		t.Errorf("expected ARCHIVED, got %s", stored.Status)
	}
}

func TestSupervisor_Timeout(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)

	queue := createQueue(t, s, "slow", domain.QueueConfig{})
	job := enqueue(t, s, EnqueueRequest{
		QueueID:     queue.ID,
		JobType:     "block",
		MaxRetries:  intPtr(0),
		TimeoutSecs: floatPtr(0.05),
	})

	seen := collectUntil(t, sub, isTerminalFailure(job.ID))

	timedOut := -1
	for i, ev := range seen {
		if ev.Type == domain.EventJobTimedOut && ev.JobID == job.ID {
			timedOut = i
		}
	}
	if timedOut < 0 {
		t.Fatal("expected job.timed_out event")
	}
	if timedOut != len(seen)-2 {
		t.Errorf("job.timed_out must directly precede job.failed")
	}

	if stored := getJob(t, s, job.ID); stored.Status != domain.JobStatusArchived {
		t.Errorf("expected ARCHIVED, got %s", stored.Status)
	}
}

func TestSupervisor_ManualRetry(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)
	ctx := context.Background()

	queue := createQueue(t, s, "manual", domain.QueueConfig{})
	failing := enqueue(t, s, EnqueueRequest{
		QueueID:    queue.ID,
		JobType:    "fail",
		Payload:    []byte(`{"fail":true}`),
		MaxRetries: intPtr(0),
	})
	waitEvent(t, sub, isTerminalFailure(failing.ID))

	retried, err := s.RetryJob(ctx, failing.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retried.Status != domain.JobStatusPending || retried.RetryCount != 0 {
		t.Errorf("expected PENDING with retry_count 0, got %s/%d", retried.Status, retried.RetryCount)
	}

	ev := waitEvent(t, sub, isEvent(domain.EventJobRetried, failing.ID))
	if !ev.Manual {
		t.Error("expected manual retry event")
	}
	waitEvent(t, sub, isTerminalFailure(failing.ID))

	ok := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})
	waitEvent(t, sub, isEvent(domain.EventJobCompleted, ok.ID))

	if _, err := s.RetryJob(ctx, ok.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for completed job, got %v", err)
	}
	if _, err := s.RetryJob(ctx, uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

// --- Cancel Tests ---

func TestSupervisor_CancelPending(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)
	ctx := context.Background()

	queue := createQueue(t, s, "cancel", domain.QueueConfig{})
	if _, err := s.PauseQueue(ctx, queue.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})

	if err := s.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitEvent(t, sub, isEvent(domain.EventJobCancelled, job.ID))

	if stored := getJob(t, s, job.ID); stored.Status != domain.JobStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", stored.Status)
	}

	if err := s.CancelJob(ctx, job.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second cancel, got %v", err)
	}

	stats, err := s.GetQueueStats(ctx, queue.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Pending != 0 || stats.Cancelled != 1 {
		t.Errorf("expected 0 pending 1 cancelled, got %+v", stats)
	}
}

func TestSupervisor_CancelRunning(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)
	ctx := context.Background()

	queue := createQueue(t, s, "cancel-running", domain.QueueConfig{})
	job := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "block"})
	waitEvent(t, sub, isEvent(domain.EventJobStarted, job.ID))

	if err := s.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := waitEvent(t, sub, isEvent(domain.EventJobCancelled, job.ID))
	if ev.Reason == "" {
		t.Error("expected cancellation reason")
	}

	if stored := getJob(t, s, job.ID); stored.Status != domain.JobStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", stored.Status)
	}
}

func TestSupervisor_CancelUnknown(t *testing.T) {
	s := startSupervisor(t, testConfig(repo.NewMemoryStore(), testRegistry()))

	if err := s.CancelJob(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Stats Tests ---

func TestSupervisor_Stats(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)

	queue := createQueue(t, s, "stats", domain.QueueConfig{})
	for range 3 {
		enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})
	}
	completed := 0
	waitEvent(t, sub, func(ev domain.JobEvent) bool {
		if ev.Type == domain.EventJobCompleted {
			completed++
		}
		return completed == 3
	})

	stats, err := s.GetQueueStats(context.Background(), queue.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Completed != 3 {
		t.Errorf("expected 3 completed, got %d", stats.Completed)
	}
	if stats.ThroughputPerMin != 3 {
		t.Errorf("expected throughput 3, got %v", stats.ThroughputPerMin)
	}
	if stats.AvgDurationMs == nil {
		t.Error("expected average duration")
	}
	if stats.Degraded {
		t.Error("queue should not be degraded")
	}
}

// --- Persistence Tests ---

func TestSupervisor_PersistenceFailureRetried(t *testing.T) {
	store := newFlakyStore()
	cfg := testConfig(store, testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)
	ctx := context.Background()

	queue := createQueue(t, s, "flaky-store", domain.QueueConfig{})

	store.failUpdates.Store(true)
	job := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})
	time.Sleep(60 * time.Millisecond)

	if stored := getJob(t, s, job.ID); stored.Status != domain.JobStatusPending {
		t.Fatalf("job must stay PENDING while store rejects writes, got %s", stored.Status)
	}

	store.failUpdates.Store(false)
	waitEvent(t, sub, isEvent(domain.EventJobCompleted, job.ID))

	stats, err := s.GetQueueStats(ctx, queue.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Completed != 1 || stats.Pending != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSupervisor_PersistenceFailureKeepsRateToken(t *testing.T) {
	store := newFlakyStore()
	cfg := testConfig(store, testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)

	// Один токен в 2 секунды: потерянный токен отложил бы запуск
	queue := createQueue(t, s, "flaky-limited", domain.QueueConfig{RateLimit: floatPtr(0.5)})

	store.failUpdates.Store(true)
	job := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})
	time.Sleep(60 * time.Millisecond)
	store.failUpdates.Store(false)

	cleared := time.Now()
	waitEvent(t, sub, isEvent(domain.EventJobStarted, job.ID))
	if elapsed := time.Since(cleared); elapsed > time.Second {
		t.Errorf("job started %v after store recovered, rate token was lost on failed dispatch", elapsed)
	}
}

// --- Supervision Tests ---

func TestSupervisor_RestartsCrashedActor(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)
	ctx := context.Background()

	queue := createQueue(t, s, "crashy", domain.QueueConfig{})
	if _, err := s.PauseQueue(ctx, queue.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})

	crash(t, s, queue.ID)
	waitEvent(t, sub, func(ev domain.JobEvent) bool {
		return ev.Type == domain.EventQueueRestarted && ev.QueueID == queue.ID
	})

	info, err := s.GetQueue(ctx, queue.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.State != domain.QueueStatePaused {
		t.Errorf("restarted actor should keep PAUSED, got %s", info.State)
	}

	stats, err := s.GetQueueStats(ctx, queue.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("expected pending job to survive restart, got %+v", stats)
	}

	if _, err := s.ResumeQueue(ctx, queue.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitEvent(t, sub, isEvent(domain.EventJobCompleted, job.ID))
}

func TestSupervisor_DegradesAfterRestartLimit(t *testing.T) {
	cfg := testConfig(repo.NewMemoryStore(), testRegistry())
	cfg.MaxRestarts = 2
	sub := cfg.Bus.Subscribe()
	defer sub.Close()
	s := startSupervisor(t, cfg)
	ctx := context.Background()

	queue := createQueue(t, s, "doomed", domain.QueueConfig{})
	other := createQueue(t, s, "healthy", domain.QueueConfig{})

	isRestarted := func(ev domain.JobEvent) bool {
		return ev.Type == domain.EventQueueRestarted && ev.QueueID == queue.ID
	}
	for range 2 {
		crash(t, s, queue.ID)
		waitEvent(t, sub, isRestarted)
	}

	crash(t, s, queue.ID)
	ev := waitEvent(t, sub, func(ev domain.JobEvent) bool {
		return ev.Type == domain.EventQueueDegraded && ev.QueueID == queue.ID
	})
	if ev.Reason == "" {
		t.Error("expected degraded reason")
	}

	_, err := s.EnqueueJob(ctx, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})
	if !errors.Is(err, ErrSupervision) {
		t.Errorf("expected ErrSupervision, got %v", err)
	}

	stats, err := s.GetQueueStats(ctx, queue.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stats.Degraded || stats.DegradedReason == "" {
		t.Errorf("expected degraded stats, got %+v", stats)
	}

	info, err := s.GetQueue(ctx, queue.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.Degraded {
		t.Error("expected queue info to be degraded")
	}

	// Соседние очереди не затронуты
	job := enqueue(t, s, EnqueueRequest{QueueID: other.ID, JobType: "echo"})
	waitEvent(t, sub, isEvent(domain.EventJobCompleted, job.ID))

	if _, err := s.RestartQueue(ctx, queue.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	revived := enqueue(t, s, EnqueueRequest{QueueID: queue.ID, JobType: "echo"})
	waitEvent(t, sub, isEvent(domain.EventJobCompleted, revived.ID))
}

// --- Stop Tests ---

func TestSupervisor_StopDrains(t *testing.T) {
	store := repo.NewMemoryStore()
	cfg := testConfig(store, testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()

	s := New(cfg)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	createQueue(t, s, "drain", domain.QueueConfig{})
	job := enqueue(t, s, EnqueueRequest{QueueName: "drain", JobType: "sleep", Payload: []byte(`{"seconds":0.05}`)})
	waitEvent(t, sub, isEvent(domain.EventJobStarted, job.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != domain.JobStatusCompleted {
		t.Errorf("expected running job to finish during drain, got %s", stored.Status)
	}
}

func TestSupervisor_StopAbortLeavesJobRunning(t *testing.T) {
	store := repo.NewMemoryStore()
	cfg := testConfig(store, testRegistry())
	sub := cfg.Bus.Subscribe()
	defer sub.Close()

	s := New(cfg)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	createQueue(t, s, "abort", domain.QueueConfig{})
	job := enqueue(t, s, EnqueueRequest{QueueName: "abort", JobType: "block"})
	waitEvent(t, sub, isEvent(domain.EventJobStarted, job.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	stored, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != domain.JobStatusRunning {
		t.Errorf("interrupted job should stay RUNNING, got %s", stored.Status)
	}
}
