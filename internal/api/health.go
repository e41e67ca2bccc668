package api

import (
	"context"
	"net/http"
	"time"
)

const healthPingTimeout = 3 * time.Second

// Health пингует хранилище и отдаёт задержку.
// GET /healthz
//
// Всегда 200: недоступное хранилище отражается в status=degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	start := time.Now()
	err := h.store.Ping(ctx)
	store := StoreHealth{
		OK:        err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	status := "ok"
	if err != nil {
		status = "degraded"
		store.Error = truncate(err.Error(), 200)
	}

	w.Header().Set("Cache-Control", "no-store")
	JSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Service: "opspulse-scheduler",
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Store:   store,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
