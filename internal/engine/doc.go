// Package engine содержит движок очередей задач.
//
// Включает:
//   - supervisor.go — Supervisor: маршрутизация команд, перезапуск actors, degraded
//   - actor.go      — queueActor: pending set, диспетчеризация, retry, статистика
//   - commands.go   — команды mailbox'а actor'а
//   - pending.go    — приоритетная очередь готовых и отложенных jobs
//   - backoff.go    — экспоненциальная задержка между попытками
//   - rehydrate.go  — восстановление состояния из хранилища при старте
//
// Каждая очередь принадлежит ровно одному actor'у. Все изменения её
// состояния выполняются в горутине actor'а, поэтому счётчики и
// переходы статусов не требуют блокировок.
package engine
