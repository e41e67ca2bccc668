package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/shaiso/opspulse/internal/domain"
)

// Triggerer запускает routine вне расписания (scheduler.Scheduler).
type Triggerer interface {
	TriggerManual(ctx context.Context, routineID uuid.UUID) (*domain.RoutineRun, error)
}

// Store — чтение routines и истории запусков.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Routine, error)
	ListByRoutine(ctx context.Context, routineID uuid.UUID, limit int) ([]domain.RoutineRun, error)
	Ping(ctx context.Context) error
}

// TriggerPublisher ставит запрос ручного запуска в очередь (mq.Publisher).
type TriggerPublisher interface {
	PublishTriggerRequest(ctx context.Context, routineID uuid.UUID, requestedBy string) error
}

// Handler — HTTP-поверхность scheduler'а.
type Handler struct {
	scheduler Triggerer
	store     Store
	publisher TriggerPublisher
	gatherer  prometheus.Gatherer
	limiter   *rate.Limiter
	logger    *slog.Logger
	started   time.Time
}

// Config — зависимости Handler.
type Config struct {
	Scheduler Triggerer
	Store     Store

	// Publisher — nil, если RabbitMQ выключен; тогда ?async=true недоступен.
	Publisher TriggerPublisher

	// Gatherer для /metrics. По умолчанию prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// TriggerRPS / TriggerBurst ограничивают ручные запуски на инстанс.
	TriggerRPS   float64
	TriggerBurst int

	Logger *slog.Logger
}

// NewHandler создаёт Handler.
func NewHandler(cfg Config) *Handler {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	rps, burst := cfg.TriggerRPS, cfg.TriggerBurst
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		scheduler: cfg.Scheduler,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		gatherer:  gatherer,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		logger:    logger,
		started:   time.Now(),
	}
}
