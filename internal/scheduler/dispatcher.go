package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shaiso/opspulse/internal/domain"
	"github.com/shaiso/opspulse/internal/telemetry"
)

// ExecFunc выполняет захваченную routine и записывает результат.
type ExecFunc func(ctx context.Context, routine *domain.Routine, holder string)

// DispatchResult — итог раздачи одного due-набора.
type DispatchResult struct {
	Claimed  int
	Lost     int
	Deferred int

	// Err — ошибка хранилища при захвате (оборачивает ErrStoreUnavailable).
	Err error
}

// Dispatcher ограничивает число одновременных выполнений в процессе.
//
// Слоты общие для всех тиков и ручных запусков. Аренда захватывается
// только после получения слота, поэтому routine не держится захваченной
// в ожидании очереди.
type Dispatcher struct {
	sem     *semaphore.Weighted
	size    int
	lease   *Lease
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher создаёт Dispatcher на maxConcurrency слотов.
func NewDispatcher(lease *Lease, maxConcurrency int, metrics *telemetry.Metrics, logger *slog.Logger, now func() time.Time) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Dispatcher{
		sem:     semaphore.NewWeighted(int64(maxConcurrency)),
		size:    maxConcurrency,
		lease:   lease,
		metrics: metrics,
		logger:  logger,
		now:     now,
	}
}

// Size возвращает число слотов.
func (d *Dispatcher) Size() int {
	return d.size
}

// Dispatch раздаёт кандидатов по слотам и ждёт завершения всех запущенных.
//
// Ожидание слота ограничено ctx тика: когда он истекает, оставшиеся
// кандидаты откладываются до следующего тика (next_run_at не менялся).
// Уже запущенные выполнения получают контекст без отмены и доходят
// до записи результата.
func (d *Dispatcher) Dispatch(ctx context.Context, candidates []domain.Routine, exec ExecFunc) DispatchResult {
	var (
		wg  sync.WaitGroup
		res DispatchResult
	)

	for i := range candidates {
		candidate := &candidates[i]

		if err := d.sem.Acquire(ctx, 1); err != nil {
			res.Deferred += len(candidates) - i
			break
		}

		holder := d.lease.NewHolder()
		expected := candidate.NextRunAt
		routine, ok, err := d.lease.TryAcquire(ctx, candidate.ID, holder, d.now(), &expected)
		if err != nil {
			d.sem.Release(1)
			d.metrics.Claim("error")
			res.Deferred += len(candidates) - i
			if ctx.Err() == nil {
				res.Err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			}
			break
		}
		if !ok {
			d.sem.Release(1)
			d.metrics.Claim("lost")
			res.Lost++
			d.logger.Debug("claim lost", "routine_id", candidate.ID)
			continue
		}

		d.metrics.Claim("won")
		res.Claimed++
		wg.Add(1)
		d.metrics.InflightInc()
		go func() {
			defer wg.Done()
			defer d.sem.Release(1)
			defer d.metrics.InflightDec()
			exec(context.WithoutCancel(ctx), routine, holder)
		}()
	}

	wg.Wait()
	d.metrics.Deferred(res.Deferred)
	return res
}

// acquire занимает один слот для ручного запуска.
func (d *Dispatcher) acquire(ctx context.Context) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	d.metrics.InflightInc()
	return nil
}

func (d *Dispatcher) release() {
	d.metrics.InflightDec()
	d.sem.Release(1)
}
