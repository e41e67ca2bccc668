package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует маршруты.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)
	limited := Chain(chain, RateLimit(h.limiter))

	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.Handle("GET /api/v1/routines/{id}", chain(http.HandlerFunc(h.GetRoutine)))
	mux.Handle("GET /api/v1/routines/{id}/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/routines/{id}/trigger", limited(http.HandlerFunc(h.TriggerRoutine)))
}

// Router возвращает готовый mux.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}
