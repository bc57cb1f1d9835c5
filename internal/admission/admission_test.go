package admission

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "admission.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func params() model.RunParams {
	return model.RunParams{City: "Denver", State: "CO", RadiusMiles: 10, MaxLeads: 50, Industries: []string{"plumbing"}}
}

func TestController_AdmitUpToCeiling(t *testing.T) {
	st := newTestStore(t)
	c := New(st, 5)
	ctx := context.Background()

	var runs []*model.Run
	for i := 0; i < 5; i++ {
		run, err := c.Admit(ctx, params())
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusQueued, run.Status)
		assert.Equal(t, model.MsgQueued, run.Progress.Message)
		runs = append(runs, run)
	}

	ok, err := c.CanAdmit(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Admit(ctx, params())
	require.Error(t, err)
	assert.True(t, IsDenied(err))
	var de *DeniedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 5, de.Active)
	assert.Equal(t, 5, de.Max)

	// One run reaching done frees a slot.
	require.NoError(t, st.TransitionRun(ctx, runs[0].ID, []model.RunStatus{model.RunStatusQueued}, model.RunStatusRunning, model.Progress{}))
	require.NoError(t, st.TransitionRun(ctx, runs[0].ID, []model.RunStatus{model.RunStatusRunning}, model.RunStatusDone, model.Progress{Message: model.MsgCompleted}))

	ok, err = c.CanAdmit(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = c.Admit(ctx, params())
	require.NoError(t, err)
}

func TestController_ConcurrentAdmitNeverExceedsMax(t *testing.T) {
	st := newTestStore(t)
	c := New(st, 5)
	ctx := context.Background()

	var (
		wg               sync.WaitGroup
		mu               sync.Mutex
		admitted, denied int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Admit(ctx, params())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case IsDenied(err):
				denied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, admitted)
	assert.Equal(t, 20, denied)
	n, err := st.CountActiveRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestNew_DefaultMax(t *testing.T) {
	c := New(nil, 0)
	assert.Equal(t, DefaultMaxActiveRuns, c.Max())
}

func TestIsDenied(t *testing.T) {
	assert.True(t, IsDenied(&DeniedError{Active: 5, Max: 5}))
	assert.True(t, IsDenied(eris.Wrap(&DeniedError{Active: 5, Max: 5}, "create")))
	assert.False(t, IsDenied(eris.New("boom")))
	assert.False(t, IsDenied(nil))
	assert.Equal(t, "admission: too many active runs (5 of 5)", (&DeniedError{Active: 5, Max: 5}).Error())
}
