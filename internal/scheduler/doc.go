// Package scheduler реализует периодическую постановку jobs по расписаниям.
//
// Расписания задаются в файле определений очередей (cron-выражение или
// интервал). Scheduler раз в тик проверяет next_due_at и ставит job
// через Supervisor.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Tick, processSchedule)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Enqueuer: supervisor,
//	    Logger:   logger,
//	})
//	_ = sched.Add(domain.Schedule{Queue: "reports", CronExpr: "@every 1m", JobType: "echo"})
//
//	go sched.Run(ctx)
package scheduler
