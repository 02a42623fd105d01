package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Поддерживаемые хранилища.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config — конфигурация сервера из переменных окружения.
type Config struct {
	HTTPAddr string `env:"CONVEYOR_HTTP_ADDR" envDefault:":8080"`

	// Store — postgres, sqlite или memory.
	Store       string `env:"CONVEYOR_STORE" envDefault:"memory"`
	DatabaseURL string `env:"DB_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"conveyor.db"`

	// RabbitMQURL — пустое значение отключает AMQP.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	QueuesFile string `env:"CONVEYOR_QUEUES_FILE"`

	RetryBaseDelay       time.Duration `env:"CONVEYOR_RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMaxDelay        time.Duration `env:"CONVEYOR_RETRY_MAX_DELAY" envDefault:"30s"`
	MaxRestarts          int           `env:"CONVEYOR_MAX_RESTARTS" envDefault:"3"`
	RestartWindow        time.Duration `env:"CONVEYOR_RESTART_WINDOW" envDefault:"1m"`
	RequestTimeout       time.Duration `env:"CONVEYOR_REQUEST_TIMEOUT" envDefault:"5s"`
	PersistRetryInterval time.Duration `env:"CONVEYOR_PERSIST_RETRY" envDefault:"1s"`
	EventBuffer          int           `env:"CONVEYOR_EVENT_BUFFER" envDefault:"1024"`
	ShutdownTimeout      time.Duration `env:"CONVEYOR_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load читает конфигурацию из окружения процесса.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom читает конфигурацию из переданного окружения.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate проверяет согласованность значений.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DB_URL is required for postgres store"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for sqlite store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("CONVEYOR_STORE must be postgres, sqlite or memory, got %q", c.Store))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"CONVEYOR_RETRY_BASE_DELAY", c.RetryBaseDelay},
		{"CONVEYOR_RETRY_MAX_DELAY", c.RetryMaxDelay},
		{"CONVEYOR_RESTART_WINDOW", c.RestartWindow},
		{"CONVEYOR_REQUEST_TIMEOUT", c.RequestTimeout},
		{"CONVEYOR_PERSIST_RETRY", c.PersistRetryInterval},
		{"CONVEYOR_SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %s", d.name, d.value))
		}
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("CONVEYOR_RETRY_MAX_DELAY (%s) must be >= CONVEYOR_RETRY_BASE_DELAY (%s)",
			c.RetryMaxDelay, c.RetryBaseDelay))
	}
	if c.MaxRestarts < 1 {
		errs = append(errs, fmt.Errorf("CONVEYOR_MAX_RESTARTS must be >= 1, got %d", c.MaxRestarts))
	}
	if c.DBMaxConns < 1 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be >= 1, got %d", c.DBMaxConns))
	}
	if c.EventBuffer < 1 {
		errs = append(errs, fmt.Errorf("CONVEYOR_EVENT_BUFFER must be >= 1, got %d", c.EventBuffer))
	}

	return errors.Join(errs...)
}

// Pool возвращает параметры пула PostgreSQL.
func (c Config) Pool() repo.PoolConfig {
	return repo.PoolConfig{DSN: c.DatabaseURL, MaxConns: c.DBMaxConns}
}

// Engine возвращает настройки движка. Store, Registry, Bus, Metrics
// и Logger заполняет вызывающий.
func (c Config) Engine(store repo.Store) engine.Config {
	return engine.Config{
		Store:                store,
		RetryBaseDelay:       c.RetryBaseDelay,
		RetryMaxDelay:        c.RetryMaxDelay,
		MaxRestarts:          c.MaxRestarts,
		RestartWindow:        c.RestartWindow,
		RequestTimeout:       c.RequestTimeout,
		PersistRetryInterval: c.PersistRetryInterval,
	}
}
