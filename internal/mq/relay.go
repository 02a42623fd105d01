package mq

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/events"
)

const defaultPublishTimeout = 5 * time.Second

// EventPublisher — получатель событий движка.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev domain.JobEvent) error
}

// Relay пересылает события шины в RabbitMQ.
//
// Доставка best-effort: ошибка публикации логируется, событие не повторяется.
type Relay struct {
	bus       *events.Bus
	publisher EventPublisher
	logger    *slog.Logger
	timeout   time.Duration
}

// RelayConfig — настройки Relay.
type RelayConfig struct {
	Bus       *events.Bus
	Publisher EventPublisher
	Logger    *slog.Logger

	// PublishTimeout — таймаут одной публикации (default: 5s).
	PublishTimeout time.Duration
}

// NewRelay создаёт Relay.
func NewRelay(cfg RelayConfig) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &Relay{
		bus:       cfg.Bus,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		timeout:   cfg.PublishTimeout,
	}
}

// Run подписывается на шину и публикует события до отмены ctx
// или закрытия шины.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.bus.Subscribe()
	defer sub.Close()

	r.logger.Info("event relay started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("event relay stopped")
			return ctx.Err()

		case ev, ok := <-sub.C():
			if !ok {
				r.logger.Info("event bus closed, relay stopped")
				return nil
			}
			r.forward(ctx, ev)
		}
	}
}

func (r *Relay) forward(ctx context.Context, ev domain.JobEvent) {
	if ev.Type == domain.EventStreamGap {
		r.logger.Warn("relay lagging, events dropped", "missed", ev.Missed)
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.publisher.PublishEvent(pubCtx, ev); err != nil {
		r.logger.Error("failed to relay event",
			"type", ev.Type,
			"queue_id", ev.QueueID,
			"job_id", ev.JobID,
			"error", err,
		)
	}
}
