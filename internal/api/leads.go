package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/leadgen/internal/model"
)

// leadPatch is the PATCH body. contacted_date accepts an RFC 3339 timestamp
// or a YYYY-MM-DD date; an explicit null clears it.
type leadPatch struct {
	Notes         *string         `json:"notes"`
	ContactedDate json.RawMessage `json:"contacted_date"`
}

func (p leadPatch) update() (model.LeadUpdate, bool) {
	upd := model.LeadUpdate{Notes: p.Notes}
	raw := bytes.TrimSpace(p.ContactedDate)
	switch {
	case len(raw) == 0:
	case bytes.Equal(raw, []byte("null")):
		upd.ClearContact = true
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return upd, false
		}
		t, err := parseDate(s)
		if err != nil {
			return upd, false
		}
		upd.ContactedDate = &t
	}
	return upd, true
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

// UpdateLead handles PATCH /api/leads/{id}. Only notes and contacted_date
// are editable.
func (h *Handlers) UpdateLead(w http.ResponseWriter, r *http.Request) {
	var patch leadPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	upd, ok := patch.update()
	if !ok {
		httpError(w, http.StatusBadRequest, "contacted_date must be YYYY-MM-DD or RFC 3339")
		return
	}
	if upd.Notes == nil && upd.ContactedDate == nil && !upd.ClearContact {
		httpError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	lead, err := h.runs.UpdateLead(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lead)
}
