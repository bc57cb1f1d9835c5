package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/config"
	"github.com/sells-group/leadgen/internal/export"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/orchestrator"
	"github.com/sells-group/leadgen/internal/store"
)

type mockRuns struct {
	mock.Mock
}

func runResult(args mock.Arguments) (*model.Run, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockRuns) Create(ctx context.Context, params model.RunParams) (*model.Run, error) {
	return runResult(m.Called(ctx, params))
}

func (m *mockRuns) Get(ctx context.Context, runID string) (*model.Run, error) {
	return runResult(m.Called(ctx, runID))
}

func (m *mockRuns) List(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockRuns) Start(ctx context.Context, runID string) (*model.Run, error) {
	return runResult(m.Called(ctx, runID))
}

func (m *mockRuns) Stop(ctx context.Context, runID string) (*model.Run, error) {
	return runResult(m.Called(ctx, runID))
}

func (m *mockRuns) StopAll(ctx context.Context) ([]model.Run, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockRuns) DeleteRun(ctx context.Context, runID string) error {
	return m.Called(ctx, runID).Error(0)
}

func (m *mockRuns) Leads(ctx context.Context, runID string, filter store.LeadFilter) ([]model.Lead, error) {
	args := m.Called(ctx, runID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Lead), args.Error(1)
}

func (m *mockRuns) Snapshot(ctx context.Context, runID string) (*model.Run, []model.Lead, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.Run), args.Get(1).([]model.Lead), args.Error(2)
}

func (m *mockRuns) UpdateLead(ctx context.Context, leadID string, upd model.LeadUpdate) (*model.Lead, error) {
	args := m.Called(ctx, leadID, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *mockRuns) IngestLeads(ctx context.Context, runID string, raws []model.RawLead) (int, error) {
	args := m.Called(ctx, runID, raws)
	return args.Int(0), args.Error(1)
}

func (m *mockRuns) Complete(ctx context.Context, runID, message string) (*model.Run, error) {
	return runResult(m.Called(ctx, runID, message))
}

func (m *mockRuns) Fail(ctx context.Context, runID, message string) (*model.Run, error) {
	return runResult(m.Called(ctx, runID, message))
}

type mockDrainer struct {
	mock.Mock
}

func (m *mockDrainer) Drain(ctx context.Context) (orchestrator.DrainResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(orchestrator.DrainResult), args.Error(1)
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, runID string, f export.Format, data []byte) (*export.Uploaded, error) {
	args := m.Called(ctx, runID, f, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*export.Uploaded), args.Error(1)
}

type testAPI struct {
	runs     *mockRuns
	drainer  *mockDrainer
	uploader *mockUploader
	handler  http.Handler
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Port:           8080,
		CronSecret:     "cron-s3cret",
		WorkerSecret:   "worker-s3cret",
		AllowedOrigins: []string{"*"},
	}
}

func newTestAPI(t *testing.T, cfg config.ServerConfig) *testAPI {
	t.Helper()
	a := &testAPI{runs: &mockRuns{}, drainer: &mockDrainer{}, uploader: &mockUploader{}}
	a.handler = NewRouter(cfg, NewHandlers(a.runs, a.drainer, a.uploader))
	t.Cleanup(func() {
		a.runs.AssertExpectations(t)
		a.drainer.AssertExpectations(t)
		a.uploader.AssertExpectations(t)
	})
	return a
}

func (a *testAPI) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func sampleRun(status model.RunStatus) *model.Run {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	return &model.Run{
		ID: "run-1",
		RunParams: model.RunParams{
			City: "Denver", State: "CO", RadiusMiles: 10, MaxLeads: 50,
			Industries: []string{"plumbing"},
		},
		Status:    status,
		Progress:  model.Progress{Message: model.MsgQueued},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
