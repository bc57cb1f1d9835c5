package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/leadgen/internal/export"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
)

// createRunRequest is the body of POST /api/runs. Clients send radius and
// maxLeads; the snake_case names used in responses are accepted as well.
type createRunRequest struct {
	City        string   `json:"city"`
	State       string   `json:"state"`
	Radius      *int     `json:"radius"`
	MaxLeads    *int     `json:"maxLeads"`
	RadiusMiles *int     `json:"radius_miles"`
	MaxLeadsAlt *int     `json:"max_leads"`
	Industries  []string `json:"industries"`
}

func (req createRunRequest) params() model.RunParams {
	return model.RunParams{
		City:        req.City,
		State:       req.State,
		RadiusMiles: firstSet(req.Radius, req.RadiusMiles),
		MaxLeads:    firstSet(req.MaxLeads, req.MaxLeadsAlt),
		Industries:  req.Industries,
	}
}

func firstSet(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// CreateRun handles POST /api/runs.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	run, err := h.runs.Create(r.Context(), req.params())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, run)
}

// ListRuns handles GET /api/runs.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Status: model.RunStatus(q.Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		httpError(w, http.StatusBadRequest, "invalid status: "+q.Get("status"))
		return
	}
	var ok bool
	if filter.Limit, filter.Offset, ok = pagination(w, r); !ok {
		return
	}

	runs, err := h.runs.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/runs/{id}.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// StartRun handles POST /api/runs/{id}/start. A dispatch failure is not an
// HTTP error: the run comes back queued with the failure in its message.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// StopRun handles POST /api/runs/{id}/stop.
func (h *Handlers) StopRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

type stopAllResponse struct {
	Stopped int         `json:"stopped"`
	Runs    []model.Run `json:"runs"`
}

// StopAllRuns handles POST /api/runs/stop-all.
func (h *Handlers) StopAllRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.StopAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	respondJSON(w, http.StatusOK, stopAllResponse{Stopped: len(runs), Runs: runs})
}

// DeleteRun handles DELETE /api/runs/{id}.
func (h *Handlers) DeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.runs.DeleteRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListLeads handles GET /api/runs/{id}/leads.
func (h *Handlers) ListLeads(w http.ResponseWriter, r *http.Request) {
	var filter store.LeadFilter
	if s := r.URL.Query().Get("min_confidence"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 || v > 1 {
			httpError(w, http.StatusBadRequest, "min_confidence must be between 0 and 1")
			return
		}
		filter.MinConfidence = v
	}
	var ok bool
	if filter.Limit, filter.Offset, ok = pagination(w, r); !ok {
		return
	}

	leads, err := h.runs.Leads(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	respondJSON(w, http.StatusOK, leads)
}

// ExportRun handles GET /api/runs/{id}/export?format=csv|xlsx. With
// upload=true and object storage configured, the file is stored and a
// presigned link is returned instead of the body.
func (h *Handlers) ExportRun(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}

	run, leads, err := h.runs.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := export.Render(format, leads)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if upload, _ := strconv.ParseBool(q.Get("upload")); upload {
		if h.uploader == nil {
			httpError(w, http.StatusServiceUnavailable, "export upload is not configured")
			return
		}
		up, err := h.uploader.Upload(r.Context(), run.ID, format, data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, up)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.Filename(run.ID)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	bytes.NewReader(data).WriteTo(w) //nolint:errcheck
}

// pagination parses limit and offset. It writes a 400 and returns false on
// malformed values.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &limit}, {"offset", &offset}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			httpError(w, http.StatusBadRequest, p.name+" must be a non-negative integer")
			return 0, 0, false
		}
		*p.dst = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, offset, true
}

const maxPageSize = 1000
