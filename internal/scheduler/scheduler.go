package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/opspulse/internal/domain"
	"github.com/shaiso/opspulse/internal/repo"
	"github.com/shaiso/opspulse/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultDueSlack       = 3 * time.Second
	DefaultBatchLimit     = 20
	DefaultMaxConcurrency = 5
	DefaultLease          = 60 * time.Second
)

// Config — конфигурация Scheduler.
type Config struct {
	Routines RoutineStore

	// Runs — история запусков. Nil: используется Routines, если реализует RunStore.
	Runs RunStore

	Runner   Runner
	Notifier Notifier // опционально
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger

	// InstanceID — префикс токенов владельца аренды.
	InstanceID string

	DueSlack       time.Duration // default: 3s
	BatchLimit     int           // default: 20
	MaxConcurrency int           // default: 5
	Lease          time.Duration // default: 60s

	Now func() time.Time
}

// Scheduler — точка входа тика и ручного запуска.
//
// Процессного состояния между тиками нет: всё решается по текущему
// состоянию routines в хранилище, поэтому тик может выполнить любой инстанс,
// а тики могут перекрываться.
type Scheduler struct {
	routines   RoutineStore
	runner     Runner
	selector   *Selector
	lease      *Lease
	dispatcher *Dispatcher
	recorder   *Recorder
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// TickResult — счётчики одного тика.
type TickResult struct {
	Due       int
	Claimed   int
	ClaimLost int
	Deferred  int
	Succeeded int
	Failed    int

	// RecordErrors — выполнения, результат которых не удалось записать полностью.
	RecordErrors int
}

// New создаёт Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Routines == nil {
		return nil, errors.New("scheduler: routine store is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	runs := cfg.Runs
	if runs == nil {
		rs, ok := cfg.Routines.(RunStore)
		if !ok {
			return nil, errors.New("scheduler: run store is required")
		}
		runs = rs
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	slack := cfg.DueSlack
	if slack == 0 {
		slack = DefaultDueSlack
	}

	lease := NewLease(cfg.Routines, cfg.Lease, cfg.InstanceID)

	return &Scheduler{
		routines:   cfg.Routines,
		runner:     cfg.Runner,
		selector:   NewSelector(cfg.Routines, slack, cfg.BatchLimit),
		lease:      lease,
		dispatcher: NewDispatcher(lease, cfg.MaxConcurrency, cfg.Metrics, logger, now),
		recorder:   NewRecorder(cfg.Routines, runs, cfg.Notifier, cfg.Metrics, logger, now),
		metrics:    cfg.Metrics,
		logger:     logger,
		now:        now,
	}, nil
}

// Tick выполняет один тик планировщика.
//
// 1. Выбирает due routines (активные, захватываемые, старейшие первыми)
// 2. Для каждой занимает слот и захватывает аренду
// 3. Выполняет HTTP-проверку и записывает результат
// 4. Ждёт завершения всех запущенных выполнений
//
// Ошибка выполнения одной routine не влияет на остальные.
// Ошибка хранилища возвращается как ErrStoreUnavailable.
func (s *Scheduler) Tick(ctx context.Context) (*TickResult, error) {
	now := s.now()

	due, err := s.selector.Select(ctx, now)
	if err != nil {
		s.metrics.Tick("error", 0)
		s.logger.Error("store unavailable", "op", "select", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	res := &TickResult{Due: len(due)}
	if len(due) == 0 {
		s.metrics.Tick("ok", 0)
		s.logger.Debug("no due routines")
		return res, nil
	}

	var mu sync.Mutex
	d := s.dispatcher.Dispatch(ctx, due, func(ctx context.Context, routine *domain.Routine, holder string) {
		run, err := s.execute(ctx, routine, holder, domain.TriggeredBySchedule)

		mu.Lock()
		defer mu.Unlock()
		if run != nil {
			if run.Succeeded() {
				res.Succeeded++
			} else {
				res.Failed++
			}
		}
		if err != nil {
			res.RecordErrors++
		}
	})

	res.Claimed = d.Claimed
	res.ClaimLost = d.Lost
	res.Deferred = d.Deferred

	s.logger.Info("scheduler tick completed",
		"due", res.Due,
		"claimed", res.Claimed,
		"claim_lost", res.ClaimLost,
		"deferred", res.Deferred,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
	)

	if d.Err != nil {
		s.metrics.Tick("error", res.Due)
		s.logger.Error("store unavailable", "op", "claim", "error", d.Err)
		return res, d.Err
	}
	s.metrics.Tick("ok", res.Due)
	return res, nil
}

// TriggerManual запускает routine вне расписания.
//
// Due-выборка не используется, но путь тот же: слот, аренда, runner, recorder.
// next_run_at не меняется. Занятая аренда — ErrClaimLost,
// неизвестная routine — repo.ErrNotFound.
func (s *Scheduler) TriggerManual(ctx context.Context, routineID uuid.UUID) (*domain.RoutineRun, error) {
	if _, err := s.routines.GetByID(ctx, routineID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if err := s.dispatcher.acquire(ctx); err != nil {
		return nil, fmt.Errorf("wait for execution slot: %w", err)
	}
	defer s.dispatcher.release()

	holder := s.lease.NewHolder()
	routine, ok, err := s.lease.TryAcquire(ctx, routineID, holder, s.now(), nil)
	if err != nil {
		s.metrics.Claim("error")
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !ok {
		s.metrics.Claim("lost")
		return nil, fmt.Errorf("routine %s: %w", routineID, ErrClaimLost)
	}
	s.metrics.Claim("won")

	run, err := s.execute(context.WithoutCancel(ctx), routine, holder, domain.TriggeredByManual)
	if run != nil && errors.Is(err, repo.ErrLeaseLost) {
		return run, nil
	}
	return run, err
}

// execute выполняет захваченную routine и записывает результат.
func (s *Scheduler) execute(ctx context.Context, routine *domain.Routine, holder string, trigger domain.TriggeredBy) (*domain.RoutineRun, error) {
	out := s.runner.Run(ctx, routine)
	return s.recorder.Record(ctx, routine, holder, trigger, out)
}
