// Package repo содержит хранилища очередей, jobs и истории.
//
// Store — порт, через который работает движок. Реализации:
//   - postgres.go — PostgreSQL через pgx (queue_repo, job_repo, history_repo)
//   - sqlite.go   — SQLite через go-sqlite3, один файл
//   - memory.go   — в памяти процесса, для тестов и локального запуска
//
// Ошибки нормализуются к ErrNotFound и ErrAlreadyExists.
package repo
