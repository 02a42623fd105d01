package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// ListQueues возвращает все очереди.
// GET /api/v1/queues
func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.engine.ListQueues(r.Context())
	if HandleEngineError(w, h.logger, err) {
		return
	}

	result := make([]QueueResponse, len(queues))
	for i, q := range queues {
		result[i] = QueueFromInfo(q)
	}

	List(w, result, len(result))
}

// CreateQueue создаёт очередь и запускает её actor.
// POST /api/v1/queues
func (h *Handler) CreateQueue(w http.ResponseWriter, r *http.Request) {
	var req CreateQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	queue, err := h.engine.CreateQueue(r.Context(), req.ToEngine())
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Created(w, QueueFromDomain(*queue))
}

// GetQueue возвращает очередь по ID или имени.
// GET /api/v1/queues/{id}
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queueID(w, r)
	if !ok {
		return
	}

	info, err := h.engine.GetQueue(r.Context(), id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, QueueFromInfo(*info))
}

// PauseQueue приостанавливает выдачу jobs. Running jobs доработают.
// POST /api/v1/queues/{id}/pause
func (h *Handler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queueID(w, r)
	if !ok {
		return
	}

	queue, err := h.engine.PauseQueue(r.Context(), id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, QueueFromDomain(*queue))
}

// ResumeQueue возобновляет выдачу jobs.
// POST /api/v1/queues/{id}/resume
func (h *Handler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queueID(w, r)
	if !ok {
		return
	}

	queue, err := h.engine.ResumeQueue(r.Context(), id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, QueueFromDomain(*queue))
}

// RestartQueue перезапускает actor очереди, в том числе degraded.
// POST /api/v1/queues/{id}/restart
func (h *Handler) RestartQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queueID(w, r)
	if !ok {
		return
	}

	info, err := h.engine.RestartQueue(r.Context(), id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, QueueFromInfo(*info))
}

// DeleteQueue дренирует и удаляет очередь вместе с её jobs.
// DELETE /api/v1/queues/{id}
func (h *Handler) DeleteQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queueID(w, r)
	if !ok {
		return
	}

	if err := h.engine.DeleteQueue(r.Context(), id); HandleEngineError(w, h.logger, err) {
		return
	}

	NoContent(w)
}

// GetQueueStats возвращает статистику очереди.
// GET /api/v1/queues/{id}/stats
func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queueID(w, r)
	if !ok {
		return
	}

	stats, err := h.engine.GetQueueStats(r.Context(), id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, stats)
}

// EnqueueJob ставит job в очередь.
// POST /api/v1/queues/{id}/jobs
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queueID(w, r)
	if !ok {
		return
	}

	var req EnqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	job, err := h.engine.EnqueueJob(r.Context(), req.ToEngine(id))
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Created(w, JobFromDomain(*job))
}

// queueID разрешает {id} из пути: UUID или имя очереди.
func (h *Handler) queueID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := h.engine.LookupQueue(r.PathValue("id"))
	if HandleEngineError(w, h.logger, err) {
		return uuid.Nil, false
	}
	return id, true
}
