package telemetry

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — Prometheus-метрики scheduler'а.
//
// Все методы безопасны для nil-получателя: компоненты, собранные без
// метрик (тесты, CLI), просто ничего не пишут.
type Metrics struct {
	ticks       *prometheus.CounterVec
	due         prometheus.Gauge
	claims      *prometheus.CounterVec
	deferred    prometheus.Counter
	inflight    prometheus.Gauge
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	attempts    prometheus.Counter
}

// NewMetrics регистрирует метрики в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opspulse_scheduler_ticks_total",
			Help: "Total scheduler ticks by result",
		}, []string{"result"}),
		due: f.NewGauge(prometheus.GaugeOpts{
			Name: "opspulse_scheduler_due_routines",
			Help: "Number of due routines selected by the last tick",
		}),
		claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opspulse_scheduler_claims_total",
			Help: "Lease claim attempts by result",
		}, []string{"result"}),
		deferred: f.NewCounter(prometheus.CounterOpts{
			Name: "opspulse_scheduler_deferred_total",
			Help: "Due routines left for the next tick",
		}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "opspulse_scheduler_inflight",
			Help: "Routine executions currently in flight",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opspulse_routine_runs_total",
			Help: "Recorded routine runs by status and trigger",
		}, []string{"status", "triggered_by"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "opspulse_routine_run_duration_seconds",
			Help:    "Routine run duration from first attempt start to final attempt end",
			Buckets: prometheus.DefBuckets,
		}),
		attempts: f.NewCounter(prometheus.CounterOpts{
			Name: "opspulse_routine_attempts_total",
			Help: "HTTP attempts made by the runner, retries included",
		}),
	}
}

// Tick учитывает завершённый тик.
func (m *Metrics) Tick(result string, due int) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
	m.due.Set(float64(due))
}

// Claim учитывает попытку захвата аренды (won, lost, error).
func (m *Metrics) Claim(result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
}

// Deferred учитывает routines, отложенные до следующего тика.
func (m *Metrics) Deferred(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deferred.Add(float64(n))
}

// InflightInc / InflightDec отслеживают выполнения в полёте.
func (m *Metrics) InflightInc() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) InflightDec() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

// Run учитывает записанный запуск.
func (m *Metrics) Run(status, triggeredBy string, seconds float64, attempts int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status, triggeredBy).Inc()
	m.runDuration.Observe(seconds)
	m.attempts.Add(float64(attempts))
}

// RegisterPgxPoolMetrics экспортирует статистику пула соединений pgx.
func RegisterPgxPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pgxpool_acquired_conns",
			Help: "Number of currently acquired connections in the pool",
		}, func() float64 {
			return float64(pool.Stat().AcquiredConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pgxpool_max_conns",
			Help: "Maximum number of connections in the pool",
		}, func() float64 {
			return float64(pool.Stat().MaxConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pgxpool_total_conns",
			Help: "Total number of connections in the pool",
		}, func() float64 {
			return float64(pool.Stat().TotalConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pgxpool_idle_conns",
			Help: "Number of idle connections in the pool",
		}, func() float64 {
			return float64(pool.Stat().IdleConns())
		}),
	)
}
