// Package cli реализует opspulse-cli.
//
// Команды делятся на две группы.
//
// Через HTTP API scheduler'а (--api-url):
//   - trigger ROUTINE_ID [--async] [--check]
//   - runs ROUTINE_ID [--limit N]
//   - show ROUTINE_ID
//   - health
//
// Напрямую по хранилищу (--config, переменные окружения):
//   - tick     — один тик; для внешнего расписания
//   - migrate  — миграции
//   - topology — описание очередей RabbitMQ
//
// Вывод: таблицы по умолчанию, JSON с --json. Данные в stdout,
// сообщения в stderr: opspulse-cli runs <id> --json | jq .
//
// Фабрики команд принимают clientFn/outputFn/configFn, чтобы Client,
// Output и Config создавались после разбора PersistentFlags.
package cli
