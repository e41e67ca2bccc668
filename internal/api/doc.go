// Package api — HTTP-поверхность opspulse-scheduler.
//
// Структура:
//   - handler.go         — Handler и его зависимости
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — logging, recovery, rate limit
//   - response.go        — JSON-ответы и перевод ошибок в HTTP-коды
//   - dto.go             — ответы API
//   - routine_handler.go — /api/v1/routines
//   - health.go          — /healthz
//
// Маршруты:
//   - POST /api/v1/routines/{id}/trigger — ручной запуск (404, 409, 429, 503)
//   - GET  /api/v1/routines/{id}         — routine
//   - GET  /api/v1/routines/{id}/runs    — история запусков
//   - GET  /healthz, GET /metrics
package api
