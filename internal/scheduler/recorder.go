package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/opspulse/internal/domain"
	"github.com/shaiso/opspulse/internal/repo"
	"github.com/shaiso/opspulse/internal/runner"
	"github.com/shaiso/opspulse/internal/telemetry"
)

const recordTimeout = 10 * time.Second

// Recorder записывает итог выполнения и освобождает аренду.
//
// Запись run, обновление last_run_at/next_run_at и снятие аренды
// делаются одной транзакцией, если хранилище реализует AtomicRecorder.
// Иначе run добавляется первым, а расписание и аренда меняются одним
// условным UPDATE: при падении между шагами аренда истечёт сама.
type Recorder struct {
	routines RoutineStore
	runs     RunStore
	atomic   AtomicRecorder
	notifier Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewRecorder создаёт Recorder.
func NewRecorder(routines RoutineStore, runs RunStore, notifier Notifier, metrics *telemetry.Metrics, logger *slog.Logger, now func() time.Time) *Recorder {
	rec := &Recorder{
		routines: routines,
		runs:     runs,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      now,
	}
	if a, ok := routines.(AtomicRecorder); ok {
		rec.atomic = a
	}
	return rec
}

// Record записывает run и обновляет расписание.
//
// Для SCHEDULE next_run_at сдвигается по сетке от прежнего due-времени,
// для MANUAL остаётся прежним. Если аренду успели перехватить,
// run всё равно записан, возвращается repo.ErrLeaseLost.
func (r *Recorder) Record(ctx context.Context, routine *domain.Routine, holder string, trigger domain.TriggeredBy, out runner.Outcome) (*domain.RoutineRun, error) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	logger := telemetry.WithHolder(telemetry.WithRoutineID(r.logger, routine.ID.String()), holder)
	run := buildRun(routine, trigger, out, r.now())

	upd := domain.ScheduleUpdate{
		RoutineID: routine.ID,
		Holder:    holder,
		LastRunAt: out.StartedAt,
	}
	if trigger == domain.TriggeredBySchedule {
		next := NextSlotAfter(routine.NextRunAt, routine.Interval(), r.now())
		upd.NextRunAt = &next
	}

	appended, err := r.write(ctx, run, upd)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrLeaseLost):
		logger.Warn("lease lost before record", "run_id", run.ID)
	case appended:
		logger.Error("store unavailable", "op", "update_schedule", "run_id", run.ID, "error", err)
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	default:
		logger.Error("store unavailable", "op", "record_run", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	r.metrics.Run(string(run.Status), string(run.TriggeredBy), out.Duration().Seconds(), out.Attempts)
	attrs := []any{
		"run_id", run.ID,
		"status", run.Status,
		"triggered_by", run.TriggeredBy,
		"attempts", out.Attempts,
		"duration_ms", *run.DurationMs,
	}
	if run.HTTPStatus != nil {
		attrs = append(attrs, "http_status", *run.HTTPStatus)
	}
	if upd.NextRunAt != nil {
		attrs = append(attrs, "next_run_at", *upd.NextRunAt)
	}
	if run.ErrorMessage != "" {
		attrs = append(attrs, "error", run.ErrorMessage)
	}
	logger.Info("routine run recorded", attrs...)

	if r.notifier != nil {
		if perr := r.notifier.PublishRunCompleted(ctx, run); perr != nil {
			// Событие не критично: run уже в истории.
			logger.Warn("failed to publish routine.run.completed", "run_id", run.ID, "error", perr)
		}
	}

	return run, err
}

// write возвращает appended=true, если run точно попал в историю.
func (r *Recorder) write(ctx context.Context, run *domain.RoutineRun, upd domain.ScheduleUpdate) (bool, error) {
	if r.atomic != nil {
		err := r.atomic.RecordRun(ctx, run, upd)
		return err == nil || errors.Is(err, repo.ErrLeaseLost), err
	}

	if err := r.runs.AppendRun(ctx, run); err != nil {
		return false, fmt.Errorf("append run: %w", err)
	}
	if err := r.routines.UpdateScheduleAndRelease(ctx, upd); err != nil {
		return true, fmt.Errorf("update schedule: %w", err)
	}
	return true, nil
}

func buildRun(routine *domain.Routine, trigger domain.TriggeredBy, out runner.Outcome, now time.Time) *domain.RoutineRun {
	finished := out.FinishedAt
	if finished.Before(out.StartedAt) {
		finished = out.StartedAt
	}
	durationMs := finished.Sub(out.StartedAt).Milliseconds()

	return &domain.RoutineRun{
		ID:           uuid.New(),
		RoutineID:    routine.ID,
		TriggeredBy:  trigger,
		Status:       out.Status,
		HTTPStatus:   out.HTTPStatus,
		DurationMs:   &durationMs,
		ErrorMessage: out.ErrorMessage,
		StartedAt:    out.StartedAt,
		FinishedAt:   &finished,
		CreatedAt:    now,
	}
}
