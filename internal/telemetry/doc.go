// Package telemetry — логи и метрики Conveyor.
//
// logging.go настраивает slog по LOG_LEVEL и LOG_FORMAT и даёт
// помощники для полей queue_id и job_id. Executor кладёт логгер job
// в context, handler'ы достают его через FromContext.
//
// metrics.go регистрирует счётчики, гистограмму длительности и gauges
// глубины очередей с меткой queue. Методы Metrics безопасны для nil.
package telemetry
