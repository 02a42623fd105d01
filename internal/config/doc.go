// Package config загружает конфигурацию сервера.
//
// Включает:
//   - config.go — переменные окружения (CONVEYOR_*, DB_URL, DB_MAX_CONNS, RABBITMQ_URL, LOG_*)
//   - queues.go — файл определений очередей и их расписаний
package config
