// Package api exposes the run orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/admission"
	"github.com/sells-group/leadgen/internal/export"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/orchestrator"
	"github.com/sells-group/leadgen/internal/store"
)

// Runs is the orchestrator surface served by the API.
type Runs interface {
	Create(ctx context.Context, params model.RunParams) (*model.Run, error)
	Get(ctx context.Context, runID string) (*model.Run, error)
	List(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	Start(ctx context.Context, runID string) (*model.Run, error)
	Stop(ctx context.Context, runID string) (*model.Run, error)
	StopAll(ctx context.Context) ([]model.Run, error)
	DeleteRun(ctx context.Context, runID string) error
	Leads(ctx context.Context, runID string, filter store.LeadFilter) ([]model.Lead, error)
	Snapshot(ctx context.Context, runID string) (*model.Run, []model.Lead, error)
	UpdateLead(ctx context.Context, leadID string, upd model.LeadUpdate) (*model.Lead, error)
	IngestLeads(ctx context.Context, runID string, raws []model.RawLead) (int, error)
	Complete(ctx context.Context, runID, message string) (*model.Run, error)
	Fail(ctx context.Context, runID, message string) (*model.Run, error)
}

// Drainer runs one poller pass.
type Drainer interface {
	Drain(ctx context.Context) (orchestrator.DrainResult, error)
}

// Uploader pushes a rendered export to object storage.
type Uploader interface {
	Upload(ctx context.Context, runID string, f export.Format, data []byte) (*export.Uploaded, error)
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	runs     Runs
	drainer  Drainer
	uploader Uploader
}

// NewHandlers creates Handlers. uploader may be nil when object storage is
// not configured.
func NewHandlers(runs Runs, drainer Drainer, uploader Uploader) *Handlers {
	return &Handlers{runs: runs, drainer: drainer, uploader: uploader}
}

type errorResponse struct {
	Error string `json:"error"`
}

type validationResponse struct {
	Errors []orchestrator.FieldError `json:"errors"`
}

type deniedResponse struct {
	Error  string `json:"error"`
	Active int    `json:"active"`
	Max    int    `json:"max"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload) //nolint:errcheck
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *orchestrator.ValidationError
		de *admission.DeniedError
		nf *orchestrator.NotFoundError
		it *orchestrator.InvalidTransitionError
	)
	switch {
	case errors.As(err, &ve):
		respondJSON(w, http.StatusBadRequest, validationResponse{Errors: ve.Fields})
	case errors.As(err, &de):
		respondJSON(w, http.StatusTooManyRequests, deniedResponse{
			Error:  "Too many active runs. Please wait for some to finish.",
			Active: de.Active,
			Max:    de.Max,
		})
	case errors.As(err, &nf):
		httpError(w, http.StatusNotFound, nf.Error())
	case errors.As(err, &it):
		httpError(w, http.StatusBadRequest, it.Error())
	case errors.Is(err, context.Canceled):
		httpError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

// maxBodyBytes bounds request bodies, including worker lead batches.
const maxBodyBytes = 4 << 20

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
