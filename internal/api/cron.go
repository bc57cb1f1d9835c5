package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/orchestrator"
)

type drainResponse struct {
	orchestrator.DrainResult
	Error string `json:"error,omitempty"`
}

// ProcessQueue handles GET /api/cron/process: one bounded poller pass.
func (h *Handlers) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	res, err := h.drainer.Drain(r.Context())
	if err != nil {
		zap.L().Error("api: cron drain failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, drainResponse{DrainResult: res, Error: "drain failed"})
		return
	}
	respondJSON(w, http.StatusOK, drainResponse{DrainResult: res})
}
