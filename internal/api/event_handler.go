package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/events"
)

// StreamEvents отдаёт события движка как Server-Sent Events.
// GET /api/v1/events?queue_id=...
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	var opts []events.SubscribeOption
	if ref := r.URL.Query().Get("queue_id"); ref != "" {
		queueID, err := h.engine.LookupQueue(ref)
		if HandleEngineError(w, h.logger, err) {
			return
		}
		opts = append(opts, events.WithQueue(queueID))
	}

	rc := http.NewResponseController(w)

	// Подписка до отправки заголовков: клиент, получивший ответ,
	// не пропустит следующие события.
	sub := h.engine.Subscribe(opts...)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("streaming not supported", "error", err)
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("event stream closed", "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev domain.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
