package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/handler"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	reg := handler.Defaults()
	reg.RegisterFunc("panic", func(context.Context, *domain.Job) (*domain.JobResult, error) {
		panic("boom")
	})
	reg.RegisterFunc("stubborn", func(context.Context, *domain.Job) (*domain.JobResult, error) {
		time.Sleep(2 * time.Second)
		return &domain.JobResult{Success: true}, nil
	})
	reg.RegisterFunc("nil-result", func(context.Context, *domain.Job) (*domain.JobResult, error) {
		return nil, nil
	})
	return NewExecutor(Config{Registry: reg})
}

func testJob(jobType string, payload string) *domain.Job {
	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	return domain.NewJob(uuid.New(), jobType, raw, time.Now())
}

// --- Executor Tests ---

func TestExecutor_Completed(t *testing.T) {
	exec := newTestExecutor(t)

	outcome := exec.Execute(context.Background(), testJob(handler.TypeEcho, `{"x":1}`), time.Second)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("Kind = %s, want completed (err: %v)", outcome.Kind, outcome.Err)
	}
	if outcome.Result == nil || !outcome.Result.Success {
		t.Errorf("Result = %+v", outcome.Result)
	}
	if outcome.ErrorMessage() != "" {
		t.Errorf("ErrorMessage = %q, want empty", outcome.ErrorMessage())
	}
}

func TestExecutor_NilResultIsSuccess(t *testing.T) {
	exec := newTestExecutor(t)

	outcome := exec.Execute(context.Background(), testJob("nil-result", ""), time.Second)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("Kind = %s, want completed", outcome.Kind)
	}
	if outcome.Result == nil || !outcome.Result.Success {
		t.Errorf("Result = %+v", outcome.Result)
	}
}

func TestExecutor_HandlerError(t *testing.T) {
	exec := newTestExecutor(t)

	outcome := exec.Execute(context.Background(), testJob(handler.TypeFail, `{"fail":true,"message":"nope"}`), time.Second)

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("Kind = %s, want failed", outcome.Kind)
	}
	if outcome.Err == nil {
		t.Error("expected error")
	}
}

func TestExecutor_UnknownType(t *testing.T) {
	exec := newTestExecutor(t)

	outcome := exec.Execute(context.Background(), testJob("missing", ""), time.Second)

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("Kind = %s, want failed", outcome.Kind)
	}
	if !errors.Is(outcome.Err, handler.ErrHandlerNotFound) {
		t.Errorf("expected ErrHandlerNotFound, got %v", outcome.Err)
	}
}

func TestExecutor_Panic(t *testing.T) {
	exec := newTestExecutor(t)

	outcome := exec.Execute(context.Background(), testJob("panic", ""), time.Second)

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("Kind = %s, want failed", outcome.Kind)
	}
	if !errors.Is(outcome.Err, ErrHandlerPanic) {
		t.Errorf("expected ErrHandlerPanic, got %v", outcome.Err)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	exec := newTestExecutor(t)

	start := time.Now()
	outcome := exec.Execute(context.Background(), testJob(handler.TypeSleep, `{"seconds":5}`), 50*time.Millisecond)

	if outcome.Kind != OutcomeTimedOut {
		t.Fatalf("Kind = %s, want timed_out", outcome.Kind)
	}
	if !errors.Is(outcome.Err, ErrExecutionTimeout) {
		t.Errorf("expected ErrExecutionTimeout, got %v", outcome.Err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
}

func TestExecutor_TimeoutAbandonsStubbornHandler(t *testing.T) {
	exec := newTestExecutor(t)

	start := time.Now()
	outcome := exec.Execute(context.Background(), testJob("stubborn", ""), 50*time.Millisecond)

	if outcome.Kind != OutcomeTimedOut {
		t.Fatalf("Kind = %s, want timed_out", outcome.Kind)
	}
	if time.Since(start) > time.Second {
		t.Errorf("executor waited for handler: %v", time.Since(start))
	}
}

func TestExecutor_CancelRequested(t *testing.T) {
	exec := newTestExecutor(t)
	ctx, cancel := context.WithCancelCause(context.Background())

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel(ErrCancelRequested)
	}()

	outcome := exec.Execute(ctx, testJob(handler.TypeSleep, `{"seconds":5}`), 5*time.Second)

	if outcome.Kind != OutcomeCancelled {
		t.Fatalf("Kind = %s, want cancelled", outcome.Kind)
	}
	if !errors.Is(outcome.Err, ErrCancelRequested) {
		t.Errorf("expected ErrCancelRequested, got %v", outcome.Err)
	}
}

func TestExecutor_CancelWaitsUntilTimeoutForStubbornHandler(t *testing.T) {
	exec := newTestExecutor(t)
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrCancelRequested)

	start := time.Now()
	outcome := exec.Execute(ctx, testJob("stubborn", ""), 100*time.Millisecond)

	if outcome.Kind != OutcomeCancelled {
		t.Fatalf("Kind = %s, want cancelled", outcome.Kind)
	}
	if time.Since(start) > time.Second {
		t.Errorf("cancel waited past timeout: %v", time.Since(start))
	}
}

func TestExecutor_Shutdown(t *testing.T) {
	exec := newTestExecutor(t)
	ctx, cancel := context.WithCancelCause(context.Background())

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel(ErrShutdown)
	}()

	outcome := exec.Execute(ctx, testJob(handler.TypeSleep, `{"seconds":5}`), 5*time.Second)

	if outcome.Kind != OutcomeInterrupted {
		t.Fatalf("Kind = %s, want interrupted", outcome.Kind)
	}
	if !errors.Is(outcome.Err, ErrShutdown) {
		t.Errorf("expected ErrShutdown, got %v", outcome.Err)
	}
}

func TestExecutor_HandlerGetsJobLogger(t *testing.T) {
	var buf bytes.Buffer
	reg := handler.NewRegistry()
	reg.RegisterFunc("log", func(ctx context.Context, _ *domain.Job) (*domain.JobResult, error) {
		telemetry.FromContext(ctx).Info("inside handler")
		return nil, nil
	})
	exec := NewExecutor(Config{
		Registry: reg,
		Logger:   slog.New(slog.NewJSONHandler(&buf, nil)),
	})
	job := testJob("log", "")

	outcome := exec.Execute(context.Background(), job, time.Second)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("Kind = %s, want completed", outcome.Kind)
	}
	if !strings.Contains(buf.String(), `"job_id":"`+job.ID.String()+`"`) {
		t.Errorf("log output missing job_id: %s", buf.String())
	}
}

func TestOutcomeKind_String(t *testing.T) {
	tests := map[OutcomeKind]string{
		OutcomeCompleted:   "completed",
		OutcomeFailed:      "failed",
		OutcomeTimedOut:    "timed_out",
		OutcomeCancelled:   "cancelled",
		OutcomeInterrupted: "interrupted",
	}
	for kind, want := range tests {
		if kind.String() != want {
			t.Errorf("String() = %q, want %q", kind.String(), want)
		}
	}
}
