package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// GetRoutine возвращает routine.
// GET /api/v1/routines/{id}
func (h *Handler) GetRoutine(w http.ResponseWriter, r *http.Request) {
	id, ok := routineID(w, r)
	if !ok {
		return
	}
	routine, err := h.store.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err, "routine not found") {
		return
	}
	Success(w, RoutineFromDomain(routine, time.Now()))
}

// ListRuns возвращает последние запуски routine, новые первыми.
// GET /api/v1/routines/{id}/runs?limit=20
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := routineID(w, r)
	if !ok {
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.store.ListByRoutine(r.Context(), id, limit)
	if HandleError(w, h.logger, err, "routine not found") {
		return
	}
	List(w, runs, len(runs))
}

// TriggerRoutine запускает routine вне расписания.
// POST /api/v1/routines/{id}/trigger[?async=true]
//
// Синхронный режим ждёт завершения и возвращает записанный run.
// Асинхронный ставит запрос в RabbitMQ и отвечает 202.
func (h *Handler) TriggerRoutine(w http.ResponseWriter, r *http.Request) {
	id, ok := routineID(w, r)
	if !ok {
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.publisher == nil {
			BadRequest(w, "async trigger requires RabbitMQ")
			return
		}
		if err := h.publisher.PublishTriggerRequest(r.Context(), id, "api:"+r.RemoteAddr); err != nil {
			InternalError(w, h.logger, err)
			return
		}
		Accepted(w, TriggerQueuedResponse{RoutineID: id, Queued: true})
		return
	}

	run, err := h.scheduler.TriggerManual(r.Context(), id)
	if HandleError(w, h.logger, err, "routine not found") {
		return
	}
	Success(w, run)
}

func routineID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid routine id")
		return uuid.Nil, false
	}
	return id, true
}
