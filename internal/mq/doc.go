// Package mq связывает движок Conveyor с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений (ack / nack / DLQ)
//   - relay.go      — пересылка событий шины в conveyor.events
//   - ingest.go     — постановка jobs из conveyor.enqueue
//
// Exchanges:
//   - conveyor.events   — события jobs и очередей (topic, routing key = тип события)
//   - conveyor.commands — команды (direct, routing key "enqueue")
//   - conveyor.dlq      — dead letter queue
package mq
