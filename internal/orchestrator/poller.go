package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/model"
)

// DrainResult summarizes one poller pass.
type DrainResult struct {
	Started    int   `json:"started"`
	Requeued   int   `json:"requeued"`
	Reconciled int   `json:"reconciled"`
	ElapsedMS  int64 `json:"elapsed_ms"`
	BudgetHit  bool  `json:"budget_exhausted"`
}

// Poller drives ProcessNext in a loop bounded by a wall-clock budget.
type Poller struct {
	orch   *Orchestrator
	budget time.Duration
}

// NewPoller creates a Poller. A non-positive budget means one minute.
func NewPoller(o *Orchestrator, budget time.Duration) *Poller {
	if budget <= 0 {
		budget = time.Minute
	}
	return &Poller{orch: o, budget: budget}
}

// Drain starts queued runs until none is left, a dispatch fails, an error
// occurs, or the budget is spent, then reconciles running runs with the
// worker. A failed dispatch ends the loop because the same run would be
// picked again immediately.
func (p *Poller) Drain(ctx context.Context) (DrainResult, error) {
	log := zap.L().With(zap.String("component", "poller"))
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	var res DrainResult
	for {
		if ctx.Err() != nil {
			res.BudgetHit = true
			break
		}
		run, err := p.orch.step(ctx)
		if err != nil {
			res.ElapsedMS = time.Since(start).Milliseconds()
			return res, err
		}
		if run == nil {
			break
		}
		if run.Status == model.RunStatusQueued {
			res.Requeued++
			break
		}
		res.Started++
	}

	if ctx.Err() == nil {
		n, err := p.orch.Reconcile(ctx)
		res.Reconciled = n
		if err != nil && ctx.Err() == nil {
			res.ElapsedMS = time.Since(start).Milliseconds()
			return res, err
		}
	}

	res.ElapsedMS = time.Since(start).Milliseconds()
	log.Info("poller: drain complete",
		zap.Int("started", res.Started),
		zap.Int("requeued", res.Requeued),
		zap.Int("reconciled", res.Reconciled),
		zap.Int64("elapsed_ms", res.ElapsedMS),
		zap.Bool("budget_exhausted", res.BudgetHit),
	)
	return res, nil
}
