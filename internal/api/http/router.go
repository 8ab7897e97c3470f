package http

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visiondispatch/core/internal/api/recovery"
)

// NewRouter wires the dispatch HTTP surface: /process and /ingest stream
// events, /health and /worker are polled by operators and orchestrators,
// /metrics is scraped by Prometheus.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(recovery.Middleware)

	r.HandleFunc("/process", h.Process).Methods("POST")
	r.HandleFunc("/ingest", h.Ingest).Methods("POST")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/worker", h.WorkerBootstrap).Methods("POST")
	r.HandleFunc("/worker", h.WorkerStatus).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}
