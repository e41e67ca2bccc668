package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/opspulse/internal/domain"
	"github.com/shaiso/opspulse/internal/repo"
	"github.com/shaiso/opspulse/internal/scheduler"
)

// Triggerer запускает routine вне расписания.
type Triggerer interface {
	TriggerManual(ctx context.Context, routineID uuid.UUID) (*domain.RoutineRun, error)
}

// TriggerHandler обрабатывает сообщения из routines.trigger.
//
// Неизвестная routine уходит в DLQ, занятая аренда подтверждается
// (routine уже выполняется), недоступное хранилище возвращает
// сообщение в очередь.
func TriggerHandler(t Triggerer, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg *Message) error {
		req, err := DecodePayload[TriggerRequestPayload](msg, MessageTypeTriggerRequested)
		if err != nil {
			return err
		}
		if req.RoutineID == uuid.Nil {
			return fmt.Errorf("%w: routine_id is required", ErrDrop)
		}

		log := logger.With("routine_id", req.RoutineID, "message_id", msg.ID)
		run, err := t.TriggerManual(ctx, req.RoutineID)
		switch {
		case err == nil:
			log.Info("manual trigger executed",
				"run_id", run.ID,
				"status", run.Status,
				"requested_by", req.RequestedBy,
			)
			return nil
		case errors.Is(err, scheduler.ErrClaimLost):
			log.Info("manual trigger skipped, routine is already running")
			return nil
		case errors.Is(err, repo.ErrNotFound):
			return fmt.Errorf("%w: routine %s not found", ErrDrop, req.RoutineID)
		default:
			return err
		}
	}
}
