package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/leadgen/internal/model"
)

type ingestRequest struct {
	Leads []model.RawLead `json:"leads"`
}

type ingestResponse struct {
	Inserted int `json:"inserted"`
}

type finishRequest struct {
	Message string `json:"message"`
}

// IngestLeads handles POST /api/runs/{id}/leads from the scraping worker.
func (h *Handlers) IngestLeads(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := h.runs.IngestLeads(r.Context(), chi.URLParam(r, "id"), req.Leads)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ingestResponse{Inserted: n})
}

// CompleteRun handles POST /api/runs/{id}/complete from the scraping worker.
func (h *Handlers) CompleteRun(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.runs.Complete)
}

// FailRun handles POST /api/runs/{id}/fail from the scraping worker.
func (h *Handlers) FailRun(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.runs.Fail)
}

// finish applies a terminal transition. An empty body uses the default
// message.
func (h *Handlers) finish(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) (*model.Run, error)) {
	var req finishRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	run, err := fn(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}
