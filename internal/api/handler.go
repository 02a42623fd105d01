package api

import (
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

const defaultHeartbeat = 15 * time.Second

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	engine    *engine.Supervisor
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	heartbeat time.Duration
	checks    map[string]func() bool
}

// Config — конфигурация для создания Handler.
type Config struct {
	Engine  *engine.Supervisor
	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	// Heartbeat — интервал комментариев keep-alive в потоке событий (default: 15s).
	Heartbeat time.Duration

	// Checks — проверки зависимостей для /healthz, например "amqp".
	Checks map[string]func() bool
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	return &Handler{
		engine:    cfg.Engine,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		heartbeat: cfg.Heartbeat,
		checks:    cfg.Checks,
	}
}
