package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/admission"
	"github.com/sells-group/leadgen/internal/industry"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
	"github.com/sells-group/leadgen/pkg/actor"
	"github.com/sells-group/leadgen/pkg/geocode"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Start(ctx context.Context, runID string) (string, error) {
	args := m.Called(ctx, runID)
	return args.String(0), args.Error(1)
}

func (m *mockDispatcher) Abort(ctx context.Context, handle string) {
	m.Called(ctx, handle)
}

func (m *mockDispatcher) Status(ctx context.Context, handle string) (*actor.RunInfo, error) {
	args := m.Called(ctx, handle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*actor.RunInfo), args.Error(1)
}

// fakeGeocoder resolves addresses from a fixed table.
type fakeGeocoder struct {
	mu      sync.Mutex
	center  *geocode.Point
	points  map[string]geocode.Point
	lookups []string
}

func (f *fakeGeocoder) Geocode(_ context.Context, address, _, _ string) *geocode.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, address)
	p, ok := f.points[address]
	if !ok {
		return nil
	}
	return &p
}

func (f *fakeGeocoder) GeocodeCenter(_ context.Context, _, _ string) *geocode.Point {
	if f.center == nil {
		return nil
	}
	c := *f.center
	return &c
}

var (
	denverCenter  = geocode.Point{Lat: 39.7392, Lng: -104.9903}
	nearDowntown  = geocode.Point{Lat: 39.7430, Lng: -104.9870}
	boulderOffice = geocode.Point{Lat: 40.0150, Lng: -105.2705}
)

func newDenverGeocoder() *fakeGeocoder {
	return &fakeGeocoder{
		center: &denverCenter,
		points: map[string]geocode.Point{
			"1600 Broadway":    nearDowntown,
			"1800 Pearl St":    boulderOffice,
			"1700 Lincoln St":  nearDowntown,
			"1500 Champa St":   nearDowntown,
			"1400 Glenarm Pl":  nearDowntown,
			"1300 Welton St":   nearDowntown,
			"1200 Stout St":    nearDowntown,
			"1100 California":  nearDowntown,
			"1000 Curtis St":   nearDowntown,
			"900 Arapahoe St":  nearDowntown,
			"800 Lawrence St":  nearDowntown,
			"700 Larimer St":   nearDowntown,
			"600 17th St":      nearDowntown,
			"500 16th St Mall": nearDowntown,
		},
	}
}

type harness struct {
	orch  *Orchestrator
	store *store.SQLiteStore
	disp  *mockDispatcher
	geo   *fakeGeocoder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	disp := &mockDispatcher{}
	geo := newDenverGeocoder()
	o := New(st, admission.New(st, admission.DefaultMaxActiveRuns), disp, geo, industry.Default())
	return &harness{orch: o, store: st, disp: disp, geo: geo}
}

func denverParams() model.RunParams {
	return model.RunParams{
		City:        "Denver",
		State:       "co",
		RadiusMiles: 10,
		MaxLeads:    50,
		Industries:  []string{"Plumbing", "hvac"},
	}
}

func (h *harness) create(t *testing.T) *model.Run {
	t.Helper()
	run, err := h.orch.Create(context.Background(), denverParams())
	require.NoError(t, err)
	return run
}

// started creates a run and starts it with the given worker handle.
func (h *harness) started(t *testing.T, handle string) *model.Run {
	t.Helper()
	run := h.create(t)
	h.disp.On("Start", mock.Anything, run.ID).Return(handle, nil).Once()
	run, err := h.orch.Start(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunStatusRunning, run.Status)
	return run
}

func threeLeads() []model.RawLead {
	return []model.RawLead{
		{
			Industry:     "plumbing",
			BusinessName: "Mile High Plumbing",
			Address:      "1600 Broadway",
			Phone:        "(303) 555-0100",
			Website:      "https://milehighplumbing.com",
		},
		{
			Industry:     "hvac",
			BusinessName: "Flatirons Heating",
			Address:      "1800 Pearl St",
			City:         "Boulder",
			Phone:        "303-555-0101",
		},
		{
			Industry:     "plumbing",
			BusinessName: "Listed Only Plumbing",
			Phone:        "303-555-0102",
			Website:      "https://www.yelp.com/biz/listed-only-plumbing",
		},
	}
}
