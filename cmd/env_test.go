//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/config"
	"github.com/sells-group/leadgen/internal/model"
)

// withConfig swaps the package config for the duration of a test.
func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "leadgen.db")},
		Admission: config.AdmissionConfig{MaxActiveRuns: 2},
		Geocode:   config.GeocodeConfig{BaseURL: "http://127.0.0.1:1", MinIntervalMs: 1100, TimeoutSecs: 1},
		Actor:     config.ActorConfig{BaseURL: "http://127.0.0.1:1"},
		Poller:    config.PollerConfig{BudgetSecs: 5, Schedule: "@every 1m"},
		Server:    config.ServerConfig{Port: 8080},
	}
}

func TestRunEnv_Close_Nil(t *testing.T) {
	env := &runEnv{}
	assert.NotPanics(t, func() { env.Close() })
}

func TestInitStore_BadDriver(t *testing.T) {
	c := sqliteConfig(t)
	c.Store.Driver = "mysql"
	withConfig(t, c)

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitEnv_ValidatesConfig(t *testing.T) {
	c := sqliteConfig(t)
	c.Admission.MaxActiveRuns = 0
	withConfig(t, c)

	_, err := initEnv(context.Background(), "runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admission.max_active_runs")
}

func TestInitEnv_PollRequiresActor(t *testing.T) {
	withConfig(t, sqliteConfig(t))

	_, err := initEnv(context.Background(), "poll")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actor.token")
}

func TestInitEnv_BadCatalogPath(t *testing.T) {
	c := sqliteConfig(t)
	c.Industry.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
	withConfig(t, c)

	_, err := initEnv(context.Background(), "runs")
	assert.Error(t, err)
}

func TestInitEnv_SQLite(t *testing.T) {
	withConfig(t, sqliteConfig(t))
	ctx := context.Background()

	env, err := initEnv(ctx, "runs")
	require.NoError(t, err)
	defer env.Close()

	assert.False(t, env.Dispatcher.Configured())
	require.NotNil(t, env.Poller)

	run, err := env.Orchestrator.Create(ctx, model.RunParams{
		City: "Denver", State: "co", RadiusMiles: 10, MaxLeads: 25,
		Industries: []string{"Plumbing"},
	})
	require.NoError(t, err)
	assert.Equal(t, "CO", run.State)
	assert.Equal(t, []string{"plumbing"}, run.Industries)

	// Without a worker token the start fails back to queued.
	run, err = env.Orchestrator.Start(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Contains(t, run.Progress.Message, model.MsgRetryQueued)
}

func TestInitEnv_CustomCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`industry:
  industries:
    - key: solar
      label: Solar Installers
      search_terms: ["solar installer"]
`), 0o600))

	c := sqliteConfig(t)
	c.Industry.CatalogPath = path
	withConfig(t, c)

	env, err := initEnv(context.Background(), "runs")
	require.NoError(t, err)
	defer env.Close()

	_, ok := env.Catalog.Lookup("Solar Installers")
	assert.True(t, ok)
	_, ok = env.Catalog.Lookup("plumbing")
	assert.False(t, ok)
}
