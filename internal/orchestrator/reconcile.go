package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
	"github.com/sells-group/leadgen/pkg/actor"
)

// Reconcile closes running runs whose worker already finished without
// calling back. It returns how many runs it moved to a terminal state.
// Worker lookups that fail are logged and retried on the next pass.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	runs, err := o.store.ListRuns(ctx, store.RunFilter{Status: model.RunStatusRunning, Limit: 1000})
	if err != nil {
		return 0, eris.Wrap(err, "orchestrator: list running runs")
	}

	closed := 0
	for _, run := range runs {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		handle := run.Progress.ExternalRunHandle
		if handle == "" {
			continue
		}
		log := logger(run.ID).With(zap.String("external_run_id", handle))

		info, err := o.dispatcher.Status(ctx, handle)
		if err != nil {
			log.Warn("orchestrator: worker status lookup failed", zap.Error(err))
			continue
		}
		if !info.IsTerminal() {
			continue
		}

		var to model.RunStatus
		var msg string
		if info.Status == actor.StatusSucceeded {
			to, msg = model.RunStatusDone, model.MsgCompleted
		} else {
			to, msg = model.RunStatusFailed, fmt.Sprintf("%s: worker run %s", model.MsgWorkerFailed, strings.ToLower(info.Status))
		}

		if _, err := o.finish(ctx, run.ID, "reconcile", to, msg); err != nil {
			var it *InvalidTransitionError
			if errors.As(err, &it) {
				// Worker callback won the race.
				continue
			}
			log.Warn("orchestrator: reconcile transition failed", zap.Error(err))
			continue
		}
		log.Info("orchestrator: run reconciled", zap.String("worker_status", info.Status), zap.String("status", string(to)))
		closed++
	}
	return closed, nil
}
