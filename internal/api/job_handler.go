package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// ListJobs возвращает jobs с фильтрацией.
// GET /api/v1/jobs?queue_id=...&status=...&tag=...&limit=...&offset=...
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repo.JobFilter{Limit: defaultListLimit}

	// queue_id принимает UUID или имя очереди
	if ref := query.Get("queue_id"); ref != "" {
		queueID, err := h.engine.LookupQueue(ref)
		if HandleEngineError(w, h.logger, err) {
			return
		}
		filter.QueueID = &queueID
	}

	if status := query.Get("status"); status != "" {
		filter.Status = domain.JobStatus(status)
		if !filter.Status.IsValid() {
			BadRequest(w, "invalid status")
			return
		}
	}

	filter.Tags = query["tag"]

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	jobs, err := h.engine.ListJobs(r.Context(), filter)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	result := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		result[i] = JobFromDomain(job)
	}

	List(w, result, len(result))
}

// GetJob возвращает job по ID.
// GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := h.engine.GetJob(r.Context(), id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, JobFromDomain(*job))
}

// CancelJob отменяет job.
// Pending job отменяется сразу, для running отмена запрашивается
// и завершается асинхронно, поэтому ответ — 202 с текущим состоянием.
// POST /api/v1/jobs/{id}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	if err := h.engine.CancelJob(r.Context(), id); HandleEngineError(w, h.logger, err) {
		return
	}

	job, err := h.engine.GetJob(r.Context(), id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Accepted(w, JobFromDomain(*job))
}

// RetryJob повторно ставит archived или cancelled job в очередь.
// POST /api/v1/jobs/{id}/retry
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := h.engine.RetryJob(r.Context(), id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, JobFromDomain(*job))
}
