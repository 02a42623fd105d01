// Conveyor — сервер очередей фоновых задач.
//
// Процесс:
//   - Поднимает движок (supervisor + actor на каждую очередь)
//   - Восстанавливает очереди и jobs из хранилища
//   - Создаёт очереди из CONVEYOR_QUEUES_FILE и запускает их расписания
//   - Отдаёт HTTP API, /healthz и /metrics
//   - При заданном RABBITMQ_URL пересылает события в RabbitMQ
//     и принимает команды enqueue из conveyor.enqueue
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/api"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/events"
	"github.com/shaiso/Conveyor/internal/handler"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(telemetry.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	logger.Info("starting conveyor", "store", cfg.Store, "addr", cfg.HTTPAddr)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("conveyor failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	// Store
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Engine
	bus := events.NewBus(events.Config{
		BufferSize: cfg.EventBuffer,
		OnDrop: func(queueID uuid.UUID) {
			metrics.EventDropped(queueID.String())
		},
		Logger: logger,
	})

	engineCfg := cfg.Engine(store)
	engineCfg.Registry = handler.Defaults()
	engineCfg.Bus = bus
	engineCfg.Metrics = metrics
	engineCfg.Logger = logger
	sup := engine.New(engineCfg)

	report, err := sup.Start(ctx)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	for queueID, reason := range report.Degraded {
		logger.Warn("queue degraded at startup", "queue_id", queueID, "reason", reason)
	}

	// Фоновые компоненты живут до сигнала или ошибки HTTP сервера
	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()
	var wg sync.WaitGroup

	// Очереди и расписания из файла
	sched := scheduler.New(scheduler.Config{Enqueuer: sup, Logger: logger})
	if err := applyQueueDefinitions(ctx, cfg.QueuesFile, sup, sched, logger); err != nil {
		stopEngine(sup, cfg.ShutdownTimeout, logger)
		return err
	}
	if sched.Len() > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(bgCtx)
		}()
	}

	// RabbitMQ (опционально)
	mqConn := startBroker(bgCtx, &wg, cfg.RabbitMQURL, sup, bus, logger)
	if mqConn != nil {
		defer mqConn.Close()
	}

	// HTTP
	checks := map[string]func() bool{}
	if mqConn != nil {
		checks["amqp"] = mqConn.IsConnected
	}
	apiHandler := api.NewHandler(api.Config{
		Engine:  sup,
		Metrics: metrics,
		Logger:  logger,
		Checks:  checks,
	})
	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Потоки событий (SSE) завершаются отменой baseCtx до Shutdown
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// Graceful shutdown: HTTP, фоновые компоненты, затем движок
	cancelBase()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	cancelBackground()
	wg.Wait()
	stopEngine(sup, cfg.ShutdownTimeout, logger)
	return runErr
}

// openStore выбирает хранилище по CONVEYOR_STORE.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repo.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := repo.NewPool(ctx, cfg.Pool())
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		store := repo.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("connected to database")
		return store, nil

	case config.StoreSQLite:
		store, err := repo.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("opened sqlite store", "path", cfg.SQLitePath)
		return store, nil

	default:
		logger.Warn("using in-memory store, state is lost on restart")
		return repo.NewMemoryStore(), nil
	}
}

// applyQueueDefinitions создаёт недостающие очереди и регистрирует расписания.
func applyQueueDefinitions(ctx context.Context, path string, sup *engine.Supervisor, sched *scheduler.Scheduler, logger *slog.Logger) error {
	if path == "" {
		return nil
	}

	defs, err := config.LoadQueueDefinitions(path)
	if err != nil {
		return err
	}

	for _, def := range defs {
		queue, created, err := sup.EnsureQueue(ctx, def.Request())
		if err != nil {
			return fmt.Errorf("ensure queue %q: %w", def.Name, err)
		}
		if created {
			logger.Info("queue created from definitions", "queue", queue.Name, "queue_id", queue.ID)
		}
		for _, s := range def.Schedules {
			if err := sched.Add(s); err != nil {
				return fmt.Errorf("queue %q: %w", def.Name, err)
			}
		}
	}

	logger.Info("queue definitions applied", "queues", len(defs), "schedules", sched.Len())
	return nil
}

// startBroker подключает RabbitMQ: relay событий и consumer команд enqueue.
// Недоступный брокер не мешает запуску: сервер работает без него.
func startBroker(ctx context.Context, wg *sync.WaitGroup, url string, sup *engine.Supervisor, bus *events.Bus, logger *slog.Logger) *mq.Connection {
	if url == "" {
		return nil
	}

	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running without broker", "error", err)
		return nil
	}
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, conn); err != nil {
		logger.Warn("failed to setup topology", "error", err)
	} else {
		logger.Debug("topology ready", "topology", mq.TopologyInfo())
	}

	relay := mq.NewRelay(mq.RelayConfig{
		Bus:       bus,
		Publisher: mq.NewPublisher(conn, logger),
		Logger:    logger,
	})
	consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
		Queue:    mq.QueueEnqueue,
		Handler:  mq.NewEnqueueHandler(sup, logger),
		Prefetch: 16,
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("enqueue consumer stopped", "error", err)
		}
	}()

	return conn
}

func stopEngine(sup *engine.Supervisor, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := sup.Stop(ctx); err != nil {
		logger.Error("engine stop error", "error", err)
	}
}
