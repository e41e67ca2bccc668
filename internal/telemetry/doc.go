// Package telemetry обеспечивает наблюдаемость scheduler'а.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики тиков, захватов и запусков
//
// Метрики регистрируются в переданном prometheus.Registerer,
// экспортируются на /metrics endpoint daemon'а.
package telemetry
