package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/pkg/actor"
)

func TestPoller_DrainStartsAllQueued(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.create(t)
	}
	h.disp.On("Start", mock.Anything, mock.Anything).Return("worker-run", nil).Times(3)
	h.disp.On("Status", mock.Anything, "worker-run").Return(&actor.RunInfo{ID: "worker-run", Status: actor.StatusRunning}, nil)

	res, err := NewPoller(h.orch, time.Minute).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Started)
	assert.Equal(t, 0, res.Requeued)
	assert.Equal(t, 0, res.Reconciled)
	assert.False(t, res.BudgetHit)

	// A second pass finds nothing to start.
	res, err = NewPoller(h.orch, time.Minute).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Started)
	h.disp.AssertNumberOfCalls(t, "Start", 3)
}

func TestPoller_DrainStopsOnDispatchFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.create(t)
	h.create(t)
	h.disp.On("Start", mock.Anything, mock.Anything).Return("", errors.New("actor platform down"))

	res, err := NewPoller(h.orch, time.Minute).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Started)
	assert.Equal(t, 1, res.Requeued)
	h.disp.AssertNumberOfCalls(t, "Start", 1)

	n, err := h.store.CountActiveRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "both runs stay queued for the next tick")
}

func TestPoller_BudgetExhausted(t *testing.T) {
	h := newHarness(t)
	h.create(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewPoller(h.orch, time.Minute).Drain(ctx)
	require.NoError(t, err)
	assert.True(t, res.BudgetHit)
	assert.Equal(t, 0, res.Started)
	h.disp.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	succeeded := h.started(t, "h-ok")
	failed := h.started(t, "h-fail")
	unknown := h.started(t, "h-unknown")
	busy := h.started(t, "h-busy")

	_, err := h.orch.IngestLeads(ctx, succeeded.ID, threeLeads())
	require.NoError(t, err)

	h.disp.On("Status", mock.Anything, "h-ok").Return(&actor.RunInfo{ID: "h-ok", Status: actor.StatusSucceeded}, nil)
	h.disp.On("Status", mock.Anything, "h-fail").Return(&actor.RunInfo{ID: "h-fail", Status: actor.StatusTimedOut}, nil)
	h.disp.On("Status", mock.Anything, "h-unknown").Return(nil, errors.New("connection reset"))
	h.disp.On("Status", mock.Anything, "h-busy").Return(&actor.RunInfo{ID: "h-busy", Status: actor.StatusRunning}, nil)

	n, err := h.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := h.orch.Get(ctx, succeeded.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDone, got.Status)
	assert.Equal(t, 3, got.Progress.Total)

	got, err = h.orch.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "Scraping failed: worker run timed-out", got.Progress.Message)

	for _, id := range []string{unknown.ID, busy.ID} {
		got, err = h.orch.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, got.Status)
	}
}
