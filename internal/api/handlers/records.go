package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roadsense/roadsense/internal/domain/telemetry"
)

// RecordsHandler serves the CRUDL surface over persisted records. These are
// plain passthroughs to the store; the batch pipeline is not involved.
type RecordsHandler struct {
	store *telemetry.Store
}

// NewRecordsHandler creates a RecordsHandler.
func NewRecordsHandler(store *telemetry.Store) *RecordsHandler {
	return &RecordsHandler{store: store}
}

// ListRecordsResponse is the response body for listing records.
type ListRecordsResponse struct {
	Data []*telemetry.StoredRecord `json:"data"`
	Meta Meta                      `json:"meta"`
}

// Meta contains pagination metadata.
type Meta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// GetRecord handles GET /processed_agent_data/{id}
func (h *RecordsHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, telemetry.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListRecords handles GET /processed_agent_data/
func (h *RecordsHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	p := parsePaginationParams(r)

	records, err := h.store.List(r.Context(), p.Limit, p.Offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	writeJSON(w, http.StatusOK, ListRecordsResponse{
		Data: records,
		Meta: Meta{Limit: p.Limit, Offset: p.Offset},
	})
}

// UpdateRecord handles PUT /processed_agent_data/{id}
func (h *RecordsHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	rec, err := telemetry.ParseProcessedAgentData(body)
	if err != nil {
		var verr *telemetry.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.store.Update(r.Context(), id, rec)
	if errors.Is(err, telemetry.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update record")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteRecord handles DELETE /processed_agent_data/{id}
func (h *RecordsHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	deleted, err := h.store.Delete(r.Context(), id)
	if errors.Is(err, telemetry.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete record")
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

func recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return 0, false
	}
	return id, true
}
