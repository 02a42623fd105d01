// Package api содержит HTTP API управления движком.
//
// Структура:
//   - handler.go       — Handler с DI (supervisor, metrics, logger)
//   - routes.go        — регистрация маршрутов
//   - middleware.go    — middleware (logging, recovery, metrics)
//   - response.go      — унифицированные JSON-ответы и маппинг ошибок движка
//   - dto.go           — Data Transfer Objects (request/response)
//   - queue_handler.go — обработчики для /queues
//   - job_handler.go   — обработчики для /jobs
//   - event_handler.go — поток событий (SSE) /events
//
// {id} очереди в пути принимает UUID или имя.
package api
