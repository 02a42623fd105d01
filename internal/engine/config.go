package engine

import (
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/events"
	"github.com/shaiso/Conveyor/internal/handler"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	DefaultRetryBaseDelay       = time.Second
	DefaultRetryMaxDelay        = 30 * time.Second
	DefaultMaxRestarts          = 3
	DefaultRestartWindow        = time.Minute
	DefaultRequestTimeout       = 5 * time.Second
	DefaultPersistRetryInterval = time.Second
	DefaultStoreTimeout         = 5 * time.Second

	defaultMailboxSize = 256
	throughputWindow   = time.Minute
)

// Config — конфигурация Supervisor и его actors.
type Config struct {
	// Store — хранилище (обязательно).
	Store repo.Store

	// Registry — реестр handler'ов (default: handler.Defaults()).
	Registry *handler.Registry

	// Bus — шина событий (default: новая шина).
	Bus *events.Bus

	// Metrics — метрики (опционально).
	Metrics *telemetry.Metrics

	// Retry backoff: delay = base * 2^retry_count, не больше max.
	RetryBaseDelay time.Duration // default: 1s
	RetryMaxDelay  time.Duration // default: 30s

	// Supervision: не больше MaxRestarts рестартов за RestartWindow.
	MaxRestarts   int           // default: 3
	RestartWindow time.Duration // default: 1m

	// RequestTimeout — ожидание ответа actor'а (default: 5s).
	RequestTimeout time.Duration

	// PersistRetryInterval — пауза перед повтором неудачной записи (default: 1s).
	PersistRetryInterval time.Duration

	// StoreTimeout — таймаут одной операции хранилища из actor'а (default: 5s).
	StoreTimeout time.Duration

	// MailboxSize — буфер mailbox actor'а (default: 256).
	MailboxSize int

	// Logger
	Logger *slog.Logger

	// Now — источник времени (default: time.Now).
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Registry == nil {
		c.Registry = handler.Defaults()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Bus == nil {
		c.Bus = events.NewBus(events.Config{Logger: c.Logger})
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = DefaultMaxRestarts
	}
	if c.RestartWindow <= 0 {
		c.RestartWindow = DefaultRestartWindow
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.PersistRetryInterval <= 0 {
		c.PersistRetryInterval = DefaultPersistRetryInterval
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = defaultMailboxSize
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func (c Config) backoff() Backoff {
	return Backoff{Base: c.RetryBaseDelay, Max: c.RetryMaxDelay}
}
