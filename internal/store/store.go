package store

import (
	"context"
	"errors"

	"github.com/sells-group/leadgen/internal/model"
)

var (
	// ErrNotFound is returned when the referenced run or lead does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrStatusMismatch is returned when a conditional update finds the run
	// in a status other than the expected one.
	ErrStatusMismatch = errors.New("store: status mismatch")
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// LeadFilter specifies criteria for listing a run's leads.
type LeadFilter struct {
	MinConfidence float64 `json:"min_confidence,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	Offset        int     `json:"offset,omitempty"`
}

// Store defines the persistence interface for runs and their leads.
//
// Status changes go through TransitionRun, which only applies when the run
// is currently in one of the given statuses. This is the single
// compare-and-swap primitive the orchestrator relies on.
type Store interface {
	// Runs
	CreateRunIfBelow(ctx context.Context, params model.RunParams, progress model.Progress, maxActive int) (*model.Run, int, error)
	CountActiveRuns(ctx context.Context) (int, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	NextQueuedRun(ctx context.Context) (*model.Run, error)
	TransitionRun(ctx context.Context, runID string, from []model.RunStatus, to model.RunStatus, progress model.Progress) error
	// RecordHandle stores the worker handle of a run in the expected
	// status. The message is only replaced while no leads have arrived, so
	// a callback that beat the handle keeps its count.
	RecordHandle(ctx context.Context, runID string, expected model.RunStatus, handle, message string) error
	DeleteRun(ctx context.Context, runID string) error

	// Leads
	AppendLeads(ctx context.Context, runID string, leads []model.Lead) (inserted int, total int, err error)
	ListLeads(ctx context.Context, runID string, filter LeadFilter) ([]model.Lead, error)
	CountLeads(ctx context.Context, runID string) (int, error)
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	UpdateLead(ctx context.Context, leadID string, upd model.LeadUpdate) (*model.Lead, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// statusStrings converts statuses to their column values.
func statusStrings(ss []model.RunStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
