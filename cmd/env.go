package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/admission"
	"github.com/sells-group/leadgen/internal/dispatch"
	"github.com/sells-group/leadgen/internal/industry"
	"github.com/sells-group/leadgen/internal/orchestrator"
	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/internal/store"
	"github.com/sells-group/leadgen/pkg/actor"
	"github.com/sells-group/leadgen/pkg/geocode"
)

// runEnv holds the store and the orchestrator built on top of it.
type runEnv struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Poller       *orchestrator.Poller
	Dispatcher   *dispatch.Dispatcher
	Catalog      *industry.Catalog
}

// Close releases resources held by the environment.
func (e *runEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgen.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCatalog loads the industry catalog override, or the embedded default.
func initCatalog() (*industry.Catalog, error) {
	return industry.Load(cfg.Industry.CatalogPath)
}

// initDispatcher builds the worker dispatcher. Without an actor token the
// dispatcher is unconfigured and every start fails back to queued.
func initDispatcher() *dispatch.Dispatcher {
	var client actor.Client
	if cfg.Actor.Token != "" {
		client = actor.NewClient(cfg.Actor.Token,
			actor.WithBaseURL(cfg.Actor.BaseURL),
			actor.WithTimeout(time.Duration(cfg.Actor.TimeoutSecs)*time.Second),
		)
	} else {
		zap.L().Warn("LEADGEN_ACTOR_TOKEN not set, runs cannot be dispatched")
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.Actor.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.Actor.RetryAttempts
	}
	return dispatch.New(client, dispatch.Config{
		ActorID:     cfg.Actor.ActorID,
		Token:       cfg.Actor.Token,
		CallbackURL: cfg.Actor.CallbackURL,
		Retry:       retry,
	})
}

func initGeocoder() *geocode.Geocoder {
	upstream := geocode.NewClient(
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithUserAgent(cfg.Geocode.UserAgent),
		geocode.WithTimeout(time.Duration(cfg.Geocode.TimeoutSecs)*time.Second),
	)
	return geocode.NewGeocoder(upstream, geocode.WithMinInterval(cfg.Geocode.MinInterval()))
}

// initEnv validates the config for mode, opens and migrates the store, and
// wires the orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*runEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	catalog, err := initCatalog()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	disp := initDispatcher()
	orch := orchestrator.New(st,
		admission.New(st, cfg.Admission.MaxActiveRuns),
		disp,
		initGeocoder(),
		catalog,
	)

	return &runEnv{
		Store:        st,
		Orchestrator: orch,
		Poller:       orchestrator.NewPoller(orch, cfg.Poller.Budget()),
		Dispatcher:   disp,
		Catalog:      catalog,
	}, nil
}
