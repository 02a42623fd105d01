// Package worker выполняет одну попытку job.
//
// # Обзор
//
// Executor находит handler по типу job в handler.Registry и запускает его
// в отдельной горутине с таймаутом job. Результат попытки описывается
// Outcome:
//
//   - OutcomeCompleted   — handler вернул Success=true
//   - OutcomeFailed      — ошибка handler, Success=false или panic
//   - OutcomeTimedOut    — истёк таймаут job
//   - OutcomeCancelled   — отмена по запросу пользователя
//   - OutcomeInterrupted — остановка процесса, job остаётся RUNNING
//
// Executor не меняет статус job и ничего не сохраняет: переходы состояний,
// retry и backoff выполняет queue actor в пакете engine.
//
// # Отмена
//
// Причина отмены передаётся через context.WithCancelCause:
//
//	ctx, cancel := context.WithCancelCause(parent)
//	go func() { outcome := exec.Execute(ctx, job, job.Timeout()) }()
//	cancel(worker.ErrCancelRequested)
//
// После запроса отмены Executor ждёт, пока handler вернётся, но не дольше
// таймаута job. Handler, не реагирующий на ctx, по таймауту бросается.
package worker
