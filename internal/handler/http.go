package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPHandler выполняет HTTP-запрос из payload.
//
// Payload:
//   - method (string): HTTP-метод. Default: GET
//   - url (string): URL запроса (обязательно)
//   - headers (object): заголовки
//   - body (any): тело запроса, отправляется как JSON
//   - timeout_sec (number): таймаут запроса. Default: 30
//
// Output:
//   - status_code (int)
//   - headers (object)
//   - body (any): JSON или строка
//
// Ответ >= 400 — неуспешный JobResult (Success=false), output сохраняется.
type HTTPHandler struct {
	// Client — HTTP-клиент. Nil — http.DefaultClient.
	Client *http.Client
}

type httpPayload struct {
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers"`
	Body       json.RawMessage   `json:"body"`
	TimeoutSec float64           `json:"timeout_sec"`
}

// Handle выполняет HTTP-запрос.
func (h *HTTPHandler) Handle(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	var p httpPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}
	if p.Method == "" {
		p.Method = http.MethodGet
	}

	timeout := defaultHTTPTimeout
	if p.TimeoutSec > 0 {
		timeout = time.Duration(p.TimeoutSec * float64(time.Second))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if len(p.Body) > 0 && string(p.Body) != "null" {
		bodyReader = bytes.NewReader(p.Body)
	}

	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}
	for key, val := range p.Headers {
		req.Header.Set(key, val)
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	telemetry.FromContext(ctx).Debug("http job request done",
		"method", p.Method,
		"url", p.URL,
		"status", resp.StatusCode,
	)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	output, err := json.Marshal(buildOutput(resp, respBody))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal output: %v", ErrHTTPRequest, err)
	}

	if resp.StatusCode >= 400 {
		return &domain.JobResult{
			Success: false,
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
			Output:  output,
		}, nil
	}

	return &domain.JobResult{
		Success: true,
		Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
		Output:  output,
	}, nil
}

// buildOutput формирует output из HTTP-ответа.
func buildOutput(resp *http.Response, body []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	// Пробуем JSON, иначе строка
	var parsedBody any
	if err := json.Unmarshal(body, &parsedBody); err != nil {
		parsedBody = string(body)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsedBody,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
