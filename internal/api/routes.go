package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		Metrics(h.metrics),
	)

	mux.Handle("GET /healthz", chain(http.HandlerFunc(h.Health)))

	// Queues
	mux.Handle("GET /api/v1/queues", chain(http.HandlerFunc(h.ListQueues)))
	mux.Handle("POST /api/v1/queues", chain(http.HandlerFunc(h.CreateQueue)))
	mux.Handle("GET /api/v1/queues/{id}", chain(http.HandlerFunc(h.GetQueue)))
	mux.Handle("DELETE /api/v1/queues/{id}", chain(http.HandlerFunc(h.DeleteQueue)))
	mux.Handle("POST /api/v1/queues/{id}/pause", chain(http.HandlerFunc(h.PauseQueue)))
	mux.Handle("POST /api/v1/queues/{id}/resume", chain(http.HandlerFunc(h.ResumeQueue)))
	mux.Handle("POST /api/v1/queues/{id}/restart", chain(http.HandlerFunc(h.RestartQueue)))
	mux.Handle("GET /api/v1/queues/{id}/stats", chain(http.HandlerFunc(h.GetQueueStats)))
	mux.Handle("POST /api/v1/queues/{id}/jobs", chain(http.HandlerFunc(h.EnqueueJob)))

	// Jobs
	mux.Handle("GET /api/v1/jobs", chain(http.HandlerFunc(h.ListJobs)))
	mux.Handle("GET /api/v1/jobs/{id}", chain(http.HandlerFunc(h.GetJob)))
	mux.Handle("POST /api/v1/jobs/{id}/cancel", chain(http.HandlerFunc(h.CancelJob)))
	mux.Handle("POST /api/v1/jobs/{id}/retry", chain(http.HandlerFunc(h.RetryJob)))

	// Events
	mux.Handle("GET /api/v1/events", chain(http.HandlerFunc(h.StreamEvents)))
}

// Health отвечает на проверку живости.
// GET /healthz
//
// Недоступная зависимость переводит status в "degraded", но ответ
// остаётся 200: движок продолжает работать без неё.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if len(h.checks) == 0 {
		Success(w, map[string]string{"status": "ok"})
		return
	}

	status := "ok"
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		checks[name] = "up"
		if !check() {
			checks[name] = "down"
			status = "degraded"
		}
	}
	Success(w, map[string]any{"status": status, "checks": checks})
}
