// Package api implements the minimal HTTP surface: the
// Prometheus-compatible query/series/labels/metadata endpoints that map 1:1
// onto the coordinator and metadata service operations. HTTP routing,
// authentication, and multi-tenant enforcement are explicit non-goals of
// the core; this package is the thin, optional transport that
// exercises it.
package api

import (
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"

	"github.com/openobserve/promql-engine/modules/coordinator"
	"github.com/openobserve/promql-engine/modules/metadata"
)

// Config holds handler-specific configuration.
type Config struct {
	QueryTimeout time.Duration
}

// Handler serves the Prometheus HTTP API against a Coordinator and a
// metadata Service.
type Handler struct {
	coord  *coordinator.Coordinator
	meta   *metadata.Service
	cfg    Config
	logger log.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(coord *coordinator.Coordinator, meta *metadata.Service, cfg Config, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{coord: coord, meta: meta, cfg: cfg, logger: logger}
}

// RegisterRoutes registers the Prometheus API paths against r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/{org}/prometheus/api/v1/query_range", h.QueryRangeHandler).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/api/{org}/prometheus/api/v1/query", h.QueryHandler).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/api/{org}/prometheus/api/v1/series", h.SeriesHandler).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/api/{org}/prometheus/api/v1/labels", h.LabelsHandler).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/api/{org}/prometheus/api/v1/label/{name}/values", h.LabelValuesHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/{org}/prometheus/api/v1/metadata", h.MetadataHandler).Methods(http.MethodGet)
}

func orgOf(r *http.Request) string {
	return mux.Vars(r)["org"]
}
