package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	reqs []engine.EnqueueRequest
	err  error
}

func (f *fakeEnqueuer) EnqueueJob(_ context.Context, req engine.EnqueueRequest) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return domain.NewJob(uuid.New(), req.JobType, req.Payload, time.Now()), nil
}

// fakeClock — управляемое время.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestScheduler(enq Enqueuer, clock *fakeClock) *Scheduler {
	return New(Config{
		Enqueuer: enq,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      clock.Now,
	})
}

// --- Cron Tests ---

func TestValidateCronExpr(t *testing.T) {
	valid := []string{"*/5 * * * *", "0 9 * * 1-5", "@every 30s", "@hourly"}
	for _, expr := range valid {
		if err := ValidateCronExpr(expr); err != nil {
			t.Errorf("expected %q to be valid: %v", expr, err)
		}
	}

	invalid := []string{"", "not a cron", "* * * * * *", "61 * * * *"}
	for _, expr := range invalid {
		if err := ValidateCronExpr(expr); err == nil {
			t.Errorf("expected %q to be invalid", expr)
		}
	}
}

func TestCalculateNextDue_Cron(t *testing.T) {
	from := time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC)
	sched := &domain.Schedule{CronExpr: "0 9 * * *"}

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalculateNextDue_Timezone(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched := &domain.Schedule{CronExpr: "0 9 * * *", Timezone: "Europe/Moscow"}

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 09:00 MSK = 06:00 UTC
	want := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalculateNextDue_Interval(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched := &domain.Schedule{IntervalSec: 90}

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := from.Add(90 * time.Second); !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sched   domain.Schedule
		wantErr bool
	}{
		{"cron", domain.Schedule{Queue: "q", JobType: "echo", CronExpr: "@every 1m"}, false},
		{"interval", domain.Schedule{Queue: "q", JobType: "echo", IntervalSec: 10}, false},
		{"no queue", domain.Schedule{JobType: "echo", IntervalSec: 10}, true},
		{"no type", domain.Schedule{Queue: "q", IntervalSec: 10}, true},
		{"no timing", domain.Schedule{Queue: "q", JobType: "echo"}, true},
		{"bad cron", domain.Schedule{Queue: "q", JobType: "echo", CronExpr: "nope"}, true},
		{"bad timezone", domain.Schedule{Queue: "q", JobType: "echo", IntervalSec: 10, Timezone: "Mars/Base"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.sched)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// --- Scheduler Tests ---

func TestScheduler_TickEnqueuesDueSchedules(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	enq := &fakeEnqueuer{}
	s := newTestScheduler(enq, clock)

	err := s.Add(domain.Schedule{
		Name:        "heartbeat",
		Queue:       "ops",
		IntervalSec: 60,
		JobType:     "echo",
		Priority:    "high",
		Tags:        []string{"cron"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("schedule must not fire before next_due_at, created %d", n)
	}

	clock.Advance(time.Minute)
	if n := s.Tick(context.Background()); n != 1 {
		t.Fatalf("expected 1 job, got %d", n)
	}

	if len(enq.reqs) != 1 {
		t.Fatalf("expected 1 enqueue request, got %d", len(enq.reqs))
	}
	req := enq.reqs[0]
	if req.QueueName != "ops" || req.JobType != "echo" || req.Priority != "high" {
		t.Errorf("unexpected request: %+v", req)
	}

	scheds := s.Schedules()
	if scheds[0].LastJobID == nil || scheds[0].LastRunAt == nil {
		t.Error("expected run to be recorded")
	}
	want := clock.Now().Add(time.Minute)
	if !scheds[0].NextDueAt.Equal(want) {
		t.Errorf("expected next due %v, got %v", want, scheds[0].NextDueAt)
	}

	// Повторный тик в тот же момент ничего не ставит
	if n := s.Tick(context.Background()); n != 0 {
		t.Errorf("expected no jobs on repeated tick, got %d", n)
	}
}

func TestScheduler_CapacityErrorSkipsRun(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	enq := &fakeEnqueuer{err: engine.ErrCapacity}
	s := newTestScheduler(enq, clock)

	if err := s.Add(domain.Schedule{Queue: "full", IntervalSec: 1, JobType: "echo"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(time.Second)
	if n := s.Tick(context.Background()); n != 0 {
		t.Errorf("expected 0 jobs, got %d", n)
	}

	sched := s.Schedules()[0]
	if sched.LastJobID != nil {
		t.Error("failed run must not record a job")
	}
	if !sched.NextDueAt.After(clock.Now()) {
		t.Error("next due must advance after a skipped run")
	}
}

func TestScheduler_AddRejectsInvalid(t *testing.T) {
	s := newTestScheduler(&fakeEnqueuer{}, &fakeClock{now: time.Now()})

	err := s.Add(domain.Schedule{Queue: "q", JobType: "echo", CronExpr: "bad"})
	if err == nil {
		t.Fatal("expected error for invalid cron")
	}
	if s.Len() != 0 {
		t.Errorf("invalid schedule must not be registered")
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s := New(Config{
		Enqueuer:     &fakeEnqueuer{},
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		TickInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
