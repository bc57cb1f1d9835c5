// Package dispatch starts and aborts the external scraping worker run that
// backs a lead-generation run.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/pkg/actor"
)

// DispatchError reports that the worker could not be started.
type DispatchError struct {
	RunID      string
	StatusCode int
	Body       string
	Err        error
}

func (e *DispatchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("dispatch: start run %s: upstream HTTP %d: %s", e.RunID, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("dispatch: start run %s: %v", e.RunID, e.Err)
	default:
		return fmt.Sprintf("dispatch: start run %s failed", e.RunID)
	}
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ErrNotConfigured is wrapped by DispatchError when no token or actor is set.
var ErrNotConfigured = errors.New("worker dispatch is not configured")

// Config identifies the actor to run.
type Config struct {
	ActorID     string
	Token       string
	CallbackURL string
	Retry       resilience.RetryConfig
}

// startInput is the body the worker receives.
type startInput struct {
	RunID       string `json:"runId"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// Dispatcher translates run ids into worker invocations.
type Dispatcher struct {
	client actor.Client
	cfg    Config
}

// New creates a Dispatcher. client may be nil when dispatch is not
// configured; Start then fails with ErrNotConfigured.
func New(client actor.Client, cfg Config) *Dispatcher {
	return &Dispatcher{client: client, cfg: cfg}
}

// Configured reports whether Start can reach a worker.
func (d *Dispatcher) Configured() bool {
	return d.client != nil && d.cfg.ActorID != "" && d.cfg.Token != ""
}

// Start launches the worker for runID and returns the worker's own run
// handle. It does not wait for the worker to finish.
func (d *Dispatcher) Start(ctx context.Context, runID string) (string, error) {
	if !d.Configured() {
		return "", &DispatchError{RunID: runID, Err: ErrNotConfigured}
	}

	retry := d.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("actor", "start_run")
	}

	info, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*actor.RunInfo, error) {
		return d.client.StartRun(ctx, d.cfg.ActorID, startInput{RunID: runID, CallbackURL: d.cfg.CallbackURL})
	})
	if err != nil {
		de := &DispatchError{RunID: runID, Err: err}
		var apiErr *actor.APIError
		if errors.As(err, &apiErr) {
			de.StatusCode = apiErr.StatusCode
			de.Body = apiErr.Body
		}
		return "", de
	}

	zap.L().Info("dispatch: worker started",
		zap.String("run_id", runID),
		zap.String("external_run_id", info.ID),
	)
	return info.ID, nil
}

// Abort asks the worker to stop. It never fails: errors are logged and the
// caller proceeds as if the abort succeeded.
func (d *Dispatcher) Abort(ctx context.Context, handle string) {
	log := zap.L().With(zap.String("component", "dispatch"), zap.String("external_run_id", handle))
	if handle == "" {
		return
	}
	if d.client == nil {
		log.Warn("dispatch: abort skipped, worker client not configured")
		return
	}
	if _, err := d.client.AbortRun(ctx, handle); err != nil {
		log.Warn("dispatch: abort failed, continuing", zap.Error(err))
		return
	}
	log.Info("dispatch: worker abort requested")
}

// Status returns the worker's view of a run.
func (d *Dispatcher) Status(ctx context.Context, handle string) (*actor.RunInfo, error) {
	if d.client == nil {
		return nil, ErrNotConfigured
	}
	return d.client.GetRun(ctx, handle)
}
