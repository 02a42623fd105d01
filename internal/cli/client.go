package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// QueueConfig — конфигурация очереди.
type QueueConfig struct {
	Concurrency       int      `json:"concurrency"`
	DefaultTimeoutSec float64  `json:"default_timeout_secs"`
	DefaultMaxRetries *int     `json:"default_max_retries,omitempty"`
	MaxQueueSize      *int     `json:"max_queue_size,omitempty"`
	RateLimit         *float64 `json:"rate_limit,omitempty"`
}

// QueueResponse — очередь из API.
type QueueResponse struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	State          string      `json:"state"`
	Config         QueueConfig `json:"config"`
	Degraded       bool        `json:"degraded"`
	DegradedReason string      `json:"degraded_reason,omitempty"`
	CreatedAt      string      `json:"created_at"`
	UpdatedAt      string      `json:"updated_at"`
}

// QueueStatsResponse — статистика очереди из API.
type QueueStatsResponse struct {
	Pending          int64    `json:"pending"`
	Running          int64    `json:"running"`
	Completed        int64    `json:"completed"`
	Failed           int64    `json:"failed"`
	Archived         int64    `json:"archived"`
	Cancelled        int64    `json:"cancelled"`
	AvgDurationMs    *float64 `json:"avg_duration_ms,omitempty"`
	ThroughputPerMin float64  `json:"throughput_per_min"`
	Degraded         bool     `json:"degraded"`
	DegradedReason   string   `json:"degraded_reason,omitempty"`
}

// JobResponse — job из API.
type JobResponse struct {
	ID         string          `json:"id"`
	QueueID    string          `json:"queue_id"`
	JobType    string          `json:"job_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   string          `json:"priority"`
	Status     string          `json:"status"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	TimeoutSec float64         `json:"timeout_secs"`
	Tags       []string        `json:"tags,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  string          `json:"created_at"`
	StartedAt  string          `json:"started_at,omitempty"`
	FinishedAt string          `json:"finished_at,omitempty"`
}

// EventResponse — событие из потока /events.
type EventResponse struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id,omitempty"`
	QueueID   string `json:"queue_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Attempt   int    `json:"attempt,omitempty"`
	Error     string `json:"error,omitempty"`
	Reason    string `json:"reason,omitempty"`
	State     string `json:"state,omitempty"`
	Missed    int64  `json:"missed,omitempty"`
}

// --- Request types ---

// CreateQueueRequest — создание очереди.
type CreateQueueRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Config      QueueConfig `json:"config"`
}

// EnqueueRequest — постановка job.
type EnqueueRequest struct {
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	MaxRetries  *int            `json:"max_retries,omitempty"`
	TimeoutSecs *float64        `json:"timeout_secs,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
}

// ListJobsOpts — параметры фильтрации jobs.
type ListJobsOpts struct {
	Queue  string
	Status string
	Tags   []string
	Limit  int
	Offset int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Queues ---

// ListQueues возвращает все очереди.
func (c *Client) ListQueues() ([]QueueResponse, error) {
	var queues []QueueResponse
	err := c.list("/api/v1/queues", nil, &queues)
	return queues, err
}

// CreateQueue создаёт очередь.
func (c *Client) CreateQueue(req CreateQueueRequest) (*QueueResponse, error) {
	var queue QueueResponse
	err := c.post("/api/v1/queues", req, &queue)
	return &queue, err
}

// GetQueue возвращает очередь по ID или имени.
func (c *Client) GetQueue(ref string) (*QueueResponse, error) {
	var queue QueueResponse
	err := c.get(queuePath(ref), &queue)
	return &queue, err
}

// PauseQueue приостанавливает очередь.
func (c *Client) PauseQueue(ref string) (*QueueResponse, error) {
	var queue QueueResponse
	err := c.post(queuePath(ref)+"/pause", nil, &queue)
	return &queue, err
}

// ResumeQueue возобновляет очередь.
func (c *Client) ResumeQueue(ref string) (*QueueResponse, error) {
	var queue QueueResponse
	err := c.post(queuePath(ref)+"/resume", nil, &queue)
	return &queue, err
}

// RestartQueue перезапускает actor очереди.
func (c *Client) RestartQueue(ref string) (*QueueResponse, error) {
	var queue QueueResponse
	err := c.post(queuePath(ref)+"/restart", nil, &queue)
	return &queue, err
}

// DeleteQueue удаляет очередь вместе с её jobs.
func (c *Client) DeleteQueue(ref string) error {
	return c.doData(http.MethodDelete, queuePath(ref), nil, nil)
}

// GetQueueStats возвращает статистику очереди.
func (c *Client) GetQueueStats(ref string) (*QueueStatsResponse, error) {
	var stats QueueStatsResponse
	err := c.get(queuePath(ref)+"/stats", &stats)
	return &stats, err
}

// --- Jobs ---

// EnqueueJob ставит job в очередь.
func (c *Client) EnqueueJob(queue string, req EnqueueRequest) (*JobResponse, error) {
	var job JobResponse
	err := c.post(queuePath(queue)+"/jobs", req, &job)
	return &job, err
}

// ListJobs возвращает jobs с фильтрацией.
func (c *Client) ListJobs(opts ListJobsOpts) ([]JobResponse, error) {
	params := url.Values{}
	if opts.Queue != "" {
		params.Set("queue_id", opts.Queue)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	for _, tag := range opts.Tags {
		params.Add("tag", tag)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var jobs []JobResponse
	err := c.list("/api/v1/jobs", params, &jobs)
	return jobs, err
}

// GetJob возвращает job по ID.
func (c *Client) GetJob(id string) (*JobResponse, error) {
	var job JobResponse
	err := c.get("/api/v1/jobs/"+url.PathEscape(id), &job)
	return &job, err
}

// CancelJob отменяет job.
func (c *Client) CancelJob(id string) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, &job)
	return &job, err
}

// RetryJob повторно ставит job в очередь.
func (c *Client) RetryJob(id string) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/jobs/"+url.PathEscape(id)+"/retry", nil, &job)
	return &job, err
}

// --- Events ---

// StreamEvents читает поток событий и вызывает fn для каждого.
// Возвращается при отмене ctx, закрытии потока или ошибке fn.
func (c *Client) StreamEvents(ctx context.Context, queue string, fn func(EventResponse) error) error {
	path := "/api/v1/events"
	if queue != "" {
		path += "?" + url.Values{"queue_id": {queue}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// Поток бесконечный: общий таймаут клиента не применяется
	stream := &http.Client{Transport: c.httpClient.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev EventResponse
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

// --- HTTP helpers ---

func queuePath(ref string) string {
	return "/api/v1/queues/" + url.PathEscape(ref)
}

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{Status: resp.StatusCode}
	}

	return &APIError{Status: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
}
