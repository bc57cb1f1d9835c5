// Package admission guards run creation against the active-run ceiling.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
)

// DefaultMaxActiveRuns is the ceiling on queued plus running runs.
const DefaultMaxActiveRuns = 5

// DeniedError is returned when admitting a run would exceed the ceiling.
type DeniedError struct {
	Active int
	Max    int
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("admission: too many active runs (%d of %d)", e.Active, e.Max)
}

// IsDenied reports whether err is an admission denial.
func IsDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}

// Controller admits new runs while fewer than Max are queued or running.
//
// The count and the insert happen in one store call so no two creators can
// both observe count < Max. The mutex additionally orders callers inside a
// single process.
type Controller struct {
	store store.Store
	max   int
	mu    sync.Mutex
}

// New creates a Controller. A non-positive max falls back to DefaultMaxActiveRuns.
func New(st store.Store, max int) *Controller {
	if max <= 0 {
		max = DefaultMaxActiveRuns
	}
	return &Controller{store: st, max: max}
}

// Max returns the configured ceiling.
func (c *Controller) Max() int { return c.max }

// CanAdmit reports whether a new run would currently be admitted. The
// answer is advisory; only Admit reserves a slot.
func (c *Controller) CanAdmit(ctx context.Context) (bool, error) {
	n, err := c.store.CountActiveRuns(ctx)
	if err != nil {
		return false, eris.Wrap(err, "admission: count active runs")
	}
	return n < c.max, nil
}

// Admit persists a new queued run if the ceiling allows it, or returns a
// *DeniedError.
func (c *Controller) Admit(ctx context.Context, params model.RunParams) (*model.Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, active, err := c.store.CreateRunIfBelow(ctx, params, model.Progress{Message: model.MsgQueued}, c.max)
	if err != nil {
		return nil, eris.Wrap(err, "admission: create run")
	}
	if run == nil {
		zap.L().Info("admission: run denied",
			zap.String("component", "admission"),
			zap.Int("active", active),
			zap.Int("max", c.max),
		)
		return nil, &DeniedError{Active: active, Max: c.max}
	}
	return run, nil
}
