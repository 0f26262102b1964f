package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/roadsense/roadsense/internal/domain/telemetry"
	"github.com/roadsense/roadsense/internal/infra/metrics"
	"github.com/roadsense/roadsense/internal/mqtt"
)

// maxIngestBody bounds the request body; a single record is tiny.
const maxIngestBody = 64 << 10

// IngestHandler is the synchronous ingress adapter. It validates the inbound
// record, submits it to the batch coordinator, and acknowledges immediately.
// Whether the submit triggered a flush is invisible to the caller.
type IngestHandler struct {
	coord   mqtt.Submitter
	log     *logrus.Logger
	metrics *metrics.Pipeline
}

// NewIngestHandler creates the HTTP ingress adapter.
func NewIngestHandler(coord mqtt.Submitter, log *logrus.Logger, m *metrics.Pipeline) *IngestHandler {
	return &IngestHandler{coord: coord, log: log, metrics: m}
}

// Ingest handles POST /processed_agent_data/
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	rec, err := telemetry.ParseProcessedAgentData(body)
	if err != nil {
		h.metrics.RecordsRejected.WithLabelValues(metrics.SourceHTTP).Inc()
		var verr *telemetry.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.metrics.RecordsIngested.WithLabelValues(metrics.SourceHTTP).Inc()
	h.coord.Submit(r.Context(), rec)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
