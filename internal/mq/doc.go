// Package mq — RabbitMQ-транспорт opspulse.
//
// Структура:
//   - connection.go — соединение с reconnect
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация событий и запросов
//   - consumer.go   — потребление с ack/nack/DLQ
//   - trigger.go    — обработчик запросов ручного запуска
//
// Типы сообщений:
//   - routine.trigger.requested — запросить ручной запуск routine
//   - routine.run.completed     — запуск записан в историю
package mq
