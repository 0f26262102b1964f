// Package api wires the chi router: the synchronous ingress endpoint, the
// CRUDL surface over persisted records, and the live-subscription websocket
// route.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/roadsense/roadsense/internal/api/handlers"
	"github.com/roadsense/roadsense/internal/domain/telemetry"
	"github.com/roadsense/roadsense/internal/infra/metrics"
	"github.com/roadsense/roadsense/internal/pipeline"
	"github.com/roadsense/roadsense/internal/ws"
)

// Deps are the collaborators the routes need. Constructed once in main and
// passed down; no package-level clients.
type Deps struct {
	Store       *telemetry.Store
	Coordinator *pipeline.Coordinator
	Registry    *ws.Registry
	Log         *logrus.Logger
	Metrics     *metrics.Pipeline
	// MetricsHandler serves GET /metrics (promhttp over the service registry).
	MetricsHandler http.Handler
}

// NewRouter creates and configures the chi router with all routes.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check — used by load balancers and probes.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	ingest := handlers.NewIngestHandler(deps.Coordinator, deps.Log, deps.Metrics)
	records := handlers.NewRecordsHandler(deps.Store)
	wsHandler := handlers.NewWSHandler(deps.Registry, deps.Log)

	r.Route("/processed_agent_data", func(r chi.Router) {
		r.Post("/", ingest.Ingest)
		r.Get("/", records.ListRecords)
		r.Get("/{id}", records.GetRecord)
		r.Put("/{id}", records.UpdateRecord)
		r.Delete("/{id}", records.DeleteRecord)
	})

	r.Get("/ws/{userID}", wsHandler.Subscribe)

	return r
}
