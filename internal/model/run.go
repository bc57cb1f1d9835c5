package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RunStatus represents the current state of a lead-generation run.
type RunStatus string

const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusDone || s == RunStatusFailed
}

// IsActive reports whether s counts against the admission ceiling.
func (s RunStatus) IsActive() bool {
	return s == RunStatusQueued || s == RunStatusRunning
}

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusDone, RunStatusFailed:
		return true
	}
	return false
}

// ActiveStatuses lists the statuses counted by admission control.
var ActiveStatuses = []RunStatus{RunStatusQueued, RunStatusRunning}

// Progress messages written by the orchestrator.
const (
	MsgQueued         = "Queued – waiting to start"
	MsgStarting       = "Starting…"
	MsgScraping       = "Scraping…"
	MsgRetryQueued    = "Failed to start – queued for retry"
	MsgStoppedByUser  = "Stopped by user"
	MsgCompleted      = "Completed"
	MsgWorkerFailed   = "Scraping failed"
	MsgLeadsCollected = "Collected %d of %d leads"
)

// RunParams are the immutable search parameters of a run.
type RunParams struct {
	City        string   `json:"city"`
	State       string   `json:"state"`
	RadiusMiles int      `json:"radius_miles"`
	MaxLeads    int      `json:"max_leads"`
	Industries  []string `json:"industries"`
}

// Normalize trims the location fields, upper-cases the state and drops
// blank or duplicate industries while preserving their order.
func (p RunParams) Normalize() RunParams {
	out := p
	out.City = strings.TrimSpace(p.City)
	out.State = cases.Upper(language.Und).String(strings.TrimSpace(p.State))

	seen := make(map[string]bool, len(p.Industries))
	out.Industries = make([]string, 0, len(p.Industries))
	for _, ind := range p.Industries {
		ind = strings.TrimSpace(ind)
		key := strings.ToLower(ind)
		if ind == "" || seen[key] {
			continue
		}
		seen[key] = true
		out.Industries = append(out.Industries, ind)
	}
	return out
}

// Progress is the client-visible progress of a run.
type Progress struct {
	Total             int    `json:"total"`
	Message           string `json:"message"`
	ExternalRunHandle string `json:"external_run_handle,omitempty"`
}

// Run is one lead-generation job scoped to a city and a set of industries.
// The search parameters are flattened into the run's JSON form.
type Run struct {
	ID string `json:"id"`
	RunParams
	Status    RunStatus `json:"status"`
	Progress  Progress  `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
