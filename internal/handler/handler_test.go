package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

func newJob(jobType, payload string) *domain.Job {
	job := domain.NewJob(uuid.New(), jobType, nil, time.Now())
	if payload != "" {
		job.Payload = json.RawMessage(payload)
	}
	return job
}

// --- Registry Tests ---

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("noop", func(context.Context, *domain.Job) (*domain.JobResult, error) {
		return &domain.JobResult{Success: true, Message: "first"}, nil
	})

	h, err := r.Resolve("noop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, _ := h.Handle(context.Background(), newJob("noop", ""))
	if res.Message != "first" {
		t.Errorf("expected first handler, got %q", res.Message)
	}

	// Повторная регистрация заменяет handler
	r.RegisterFunc("noop", func(context.Context, *domain.Job) (*domain.JobResult, error) {
		return &domain.JobResult{Success: true, Message: "second"}, nil
	})
	h, _ = r.Resolve("noop")
	res, _ = h.Handle(context.Background(), newJob("noop", ""))
	if res.Message != "second" {
		t.Errorf("expected replaced handler, got %q", res.Message)
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("missing")
	if !errors.Is(err, ErrHandlerNotFound) {
		t.Errorf("expected ErrHandlerNotFound, got %v", err)
	}
	if r.Has("missing") {
		t.Error("Has should be false for unknown type")
	}
}

func TestDefaults(t *testing.T) {
	r := Defaults()

	types := r.Types()
	expected := []string{TypeEcho, TypeFail, TypeHTTP, TypeSleep}
	if len(types) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, types)
	}
	for i := range expected {
		if types[i] != expected[i] {
			t.Errorf("expected %v, got %v", expected, types)
		}
	}
}

// --- Builtin Tests ---

func TestEchoHandler(t *testing.T) {
	res, err := (&EchoHandler{}).Handle(context.Background(), newJob(TypeEcho, `{"hello":"world"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Error("echo should succeed")
	}
	if string(res.Output) != `{"hello":"world"}` {
		t.Errorf("expected payload as output, got %s", res.Output)
	}
}

func TestSleepHandler_Completes(t *testing.T) {
	start := time.Now()
	res, err := (&SleepHandler{}).Handle(context.Background(), newJob(TypeSleep, `{"seconds":0.05}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Error("sleep should succeed")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("sleep returned too early")
	}
}

func TestSleepHandler_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := (&SleepHandler{}).Handle(ctx, newJob(TypeSleep, `{"seconds":5}`))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSleepHandler_InvalidPayload(t *testing.T) {
	_, err := (&SleepHandler{}).Handle(context.Background(), newJob(TypeSleep, `{"seconds":"abc"}`))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestFailHandler(t *testing.T) {
	_, err := (&FailHandler{}).Handle(context.Background(), newJob(TypeFail, `{"fail":true,"message":"nope"}`))
	if !errors.Is(err, ErrForcedFailure) {
		t.Errorf("expected ErrForcedFailure, got %v", err)
	}

	res, err := (&FailHandler{}).Handle(context.Background(), newJob(TypeFail, `{"fail":false}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Error("fail=false should succeed")
	}
}

// --- HTTPHandler Tests ---

func TestHTTPHandler_GET_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("X-Custom", "test-value")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"result": "ok"})
	}))
	defer server.Close()

	res, err := (&HTTPHandler{}).Handle(context.Background(), newJob(TypeHTTP, `{"url":"`+server.URL+`"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Message)
	}

	var out struct {
		StatusCode int               `json:"status_code"`
		Headers    map[string]string `json:"headers"`
		Body       map[string]any    `json:"body"`
	}
	if err := json.Unmarshal(res.Output, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", out.StatusCode)
	}
	if out.Headers["X-Custom"] != "test-value" {
		t.Errorf("expected X-Custom header, got %v", out.Headers)
	}
	if out.Body["result"] != "ok" {
		t.Errorf("expected result=ok, got %v", out.Body)
	}
}

func TestHTTPHandler_POST_WithBody(t *testing.T) {
	var receivedBody map[string]any
	var receivedContentType, receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedContentType = r.Header.Get("Content-Type")
		receivedAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&receivedBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	payload := `{"method":"POST","url":"` + server.URL + `","body":{"name":"test"},"headers":{"Authorization":"Bearer token123"}}`
	res, err := (&HTTPHandler{}).Handle(context.Background(), newJob(TypeHTTP, payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Message)
	}
	if receivedBody["name"] != "test" {
		t.Errorf("server should receive body, got %v", receivedBody)
	}
	if receivedContentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", receivedContentType)
	}
	if receivedAuth != "Bearer token123" {
		t.Errorf("expected Authorization header, got %q", receivedAuth)
	}
}

func TestHTTPHandler_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "internal"}`))
	}))
	defer server.Close()

	res, err := (&HTTPHandler{}).Handle(context.Background(), newJob(TypeHTTP, `{"url":"`+server.URL+`"}`))
	if err != nil {
		t.Fatalf("HTTP errors should not be infrastructure errors: %v", err)
	}
	if res.Success {
		t.Error("expected unsuccessful result for 500")
	}
	if len(res.Output) == 0 {
		t.Error("output should be kept for failed responses")
	}
}

func TestHTTPHandler_MissingURL(t *testing.T) {
	_, err := (&HTTPHandler{}).Handle(context.Background(), newJob(TypeHTTP, `{"method":"GET"}`))
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest, got %v", err)
	}
}

func TestHTTPHandler_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	// 100ms — сервер не успеет ответить
	_, err := (&HTTPHandler{}).Handle(context.Background(), newJob(TypeHTTP, `{"url":"`+server.URL+`","timeout_sec":0.1}`))
	if err == nil {
		t.Error("expected error for timeout")
	}
}
