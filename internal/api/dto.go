package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/opspulse/internal/domain"
)

// RoutineResponse — routine без служебных полей аренды.
type RoutineResponse struct {
	ID              uuid.UUID          `json:"id"`
	WorkspaceID     uuid.UUID          `json:"workspace_id"`
	Name            string             `json:"name"`
	Kind            domain.RoutineKind `json:"kind"`
	IntervalMinutes int                `json:"interval_minutes"`
	EndpointURL     string             `json:"endpoint_url"`
	HTTPMethod      string             `json:"http_method"`
	AuthMode        domain.AuthMode    `json:"auth_mode"`
	IsActive        bool               `json:"is_active"`
	NextRunAt       time.Time          `json:"next_run_at"`
	LastRunAt       *time.Time         `json:"last_run_at,omitempty"`
	Running         bool               `json:"running"`
}

// RoutineFromDomain конвертирует domain.Routine. Заголовки и secret_ref не отдаются.
func RoutineFromDomain(r *domain.Routine, now time.Time) RoutineResponse {
	return RoutineResponse{
		ID:              r.ID,
		WorkspaceID:     r.WorkspaceID,
		Name:            r.Name,
		Kind:            r.Kind,
		IntervalMinutes: r.IntervalMinutes,
		EndpointURL:     r.EndpointURL,
		HTTPMethod:      r.HTTPMethod,
		AuthMode:        r.AuthMode,
		IsActive:        r.IsActive,
		NextRunAt:       r.NextRunAt,
		LastRunAt:       r.LastRunAt,
		Running:         !r.Claimable(now),
	}
}

// TriggerQueuedResponse — ответ на асинхронный запуск.
type TriggerQueuedResponse struct {
	RoutineID uuid.UUID `json:"routine_id"`
	Queued    bool      `json:"queued"`
}

// HealthResponse — ответ /healthz.
type HealthResponse struct {
	Status  string      `json:"status"`
	Service string      `json:"service"`
	Uptime  string      `json:"uptime"`
	Store   StoreHealth `json:"store"`
}

// StoreHealth — результат ping хранилища.
type StoreHealth struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}
