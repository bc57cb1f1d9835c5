// Package orchestrator drives lead-generation runs through their lifecycle:
// admission, dispatch to the external worker, lead enrichment, and
// terminal transitions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen/internal/admission"
	"github.com/sells-group/leadgen/internal/industry"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
	"github.com/sells-group/leadgen/pkg/actor"
	"github.com/sells-group/leadgen/pkg/geocode"
)

// Dispatcher starts and aborts external worker runs.
type Dispatcher interface {
	Start(ctx context.Context, runID string) (string, error)
	Abort(ctx context.Context, handle string)
	Status(ctx context.Context, handle string) (*actor.RunInfo, error)
}

// Geocoder resolves addresses for lead enrichment.
type Geocoder interface {
	Geocode(ctx context.Context, address, city, state string) *geocode.Point
	GeocodeCenter(ctx context.Context, city, state string) *geocode.Point
}

const (
	defaultStopConcurrency = 4
	maxClaimAttempts       = 5
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStopConcurrency bounds how many stops StopAll runs at once.
func WithStopConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.stopConcurrency = n
		}
	}
}

// Orchestrator is the only writer of run status and progress.
type Orchestrator struct {
	store           store.Store
	admission       *admission.Controller
	dispatcher      Dispatcher
	geocoder        Geocoder
	catalog         *industry.Catalog
	stopConcurrency int
}

// New creates an Orchestrator.
func New(st store.Store, adm *admission.Controller, d Dispatcher, g Geocoder, catalog *industry.Catalog, opts ...Option) *Orchestrator {
	if catalog == nil {
		catalog = industry.Default()
	}
	o := &Orchestrator{
		store:           st,
		admission:       adm,
		dispatcher:      d,
		geocoder:        g,
		catalog:         catalog,
		stopConcurrency: defaultStopConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func logger(runID string) *zap.Logger {
	return zap.L().With(zap.String("component", "orchestrator"), zap.String("run_id", runID))
}

// Create validates params and admits a new queued run.
func (o *Orchestrator) Create(ctx context.Context, params model.RunParams) (*model.Run, error) {
	params, err := ValidateParams(params, o.catalog)
	if err != nil {
		return nil, err
	}

	run, err := o.admission.Admit(ctx, params)
	if err != nil {
		var denied *admission.DeniedError
		if errors.As(err, &denied) {
			return nil, denied
		}
		return nil, eris.Wrap(err, "orchestrator: create run")
	}

	logger(run.ID).Info("orchestrator: run created",
		zap.String("city", run.City),
		zap.String("state", run.State),
		zap.Strings("industries", run.Industries),
	)
	return run, nil
}

// ProcessNext starts the oldest queued run. It returns false when there is
// no queued run, in which case nothing is changed.
func (o *Orchestrator) ProcessNext(ctx context.Context) (bool, error) {
	run, err := o.step(ctx)
	return run != nil, err
}

// step is ProcessNext returning the run it acted on.
func (o *Orchestrator) step(ctx context.Context) (*model.Run, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		next, err := o.store.NextQueuedRun(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "orchestrator: next queued run")
		}
		if next == nil {
			return nil, nil
		}

		run, err := o.Start(ctx, next.ID)
		if IsInvalidTransition(err) || IsNotFound(err) {
			// Another poller took or removed it between the read and the CAS.
			logger(next.ID).Debug("orchestrator: queued run claimed elsewhere", zap.Error(err))
			continue
		}
		return run, err
	}
	return nil, nil
}

// Start moves a queued run to running and dispatches the worker. A dispatch
// failure is not returned as an error: the run is reverted to queued with a
// retry message and the reverted run is returned.
func (o *Orchestrator) Start(ctx context.Context, runID string) (*model.Run, error) {
	log := logger(runID)

	run, err := o.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunStatusQueued {
		return nil, &InvalidTransitionError{RunID: runID, Op: "start", Status: run.Status}
	}

	starting := model.Progress{Total: 0, Message: model.MsgStarting}
	if err := o.transition(ctx, runID, "start", []model.RunStatus{model.RunStatusQueued}, model.RunStatusRunning, starting); err != nil {
		return nil, err
	}

	handle, err := o.dispatcher.Start(ctx, runID)
	if err != nil {
		log.Warn("orchestrator: dispatch failed, re-queueing run", zap.Error(err))
		retry := model.Progress{Message: fmt.Sprintf("%s: %v", model.MsgRetryQueued, err)}
		if rerr := o.store.TransitionRun(ctx, runID, []model.RunStatus{model.RunStatusRunning}, model.RunStatusQueued, retry); rerr != nil {
			// Stopped while dispatching; the stop wins.
			log.Info("orchestrator: revert skipped", zap.Error(rerr))
		}
		return o.Get(ctx, runID)
	}

	if err := o.store.RecordHandle(ctx, runID, model.RunStatusRunning, handle, model.MsgScraping); err != nil {
		if errors.Is(err, store.ErrStatusMismatch) {
			// Stopped before the handle was recorded, so nobody else can
			// abort this worker.
			log.Warn("orchestrator: run left running state during dispatch, aborting worker",
				zap.String("external_run_id", handle))
			o.dispatcher.Abort(ctx, handle)
			return o.Get(ctx, runID)
		}
		return nil, eris.Wrapf(err, "orchestrator: record handle for run %s", runID)
	}

	log.Info("orchestrator: run started", zap.String("external_run_id", handle))
	return o.Get(ctx, runID)
}

// Stop aborts the worker if one is recorded and fails the run with
// "Stopped by user". Terminal runs are rejected unchanged.
func (o *Orchestrator) Stop(ctx context.Context, runID string) (*model.Run, error) {
	log := logger(runID)

	for attempt := 0; attempt < 3; attempt++ {
		run, err := o.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.IsTerminal() {
			return nil, &InvalidTransitionError{RunID: runID, Op: "stop", Status: run.Status}
		}

		if run.Status == model.RunStatusRunning && run.Progress.ExternalRunHandle != "" {
			o.dispatcher.Abort(ctx, run.Progress.ExternalRunHandle)
		}

		stopped := model.Progress{
			Total:             run.Progress.Total,
			Message:           model.MsgStoppedByUser,
			ExternalRunHandle: run.Progress.ExternalRunHandle,
		}
		err = o.store.TransitionRun(ctx, runID, []model.RunStatus{run.Status}, model.RunStatusFailed, stopped)
		if errors.Is(err, store.ErrStatusMismatch) {
			// Status moved under us (for example queued to running); re-read.
			continue
		}
		if err != nil {
			return nil, o.mapStoreErr(ctx, err, runID, "stop")
		}

		log.Info("orchestrator: run stopped", zap.String("from", string(run.Status)))
		return o.Get(ctx, runID)
	}
	return nil, eris.Errorf("orchestrator: stop run %s: status kept changing", runID)
}

// StopAll stops every queued or running run and returns the runs it
// stopped. Runs that reach a terminal state concurrently are skipped.
func (o *Orchestrator) StopAll(ctx context.Context) ([]model.Run, error) {
	var active []model.Run
	for _, st := range model.ActiveStatuses {
		runs, err := o.store.ListRuns(ctx, store.RunFilter{Status: st, Limit: 10000})
		if err != nil {
			return nil, eris.Wrap(err, "orchestrator: list active runs")
		}
		active = append(active, runs...)
	}

	var (
		mu      sync.Mutex
		stopped = make([]model.Run, 0, len(active))
		g       errgroup.Group
	)
	g.SetLimit(o.stopConcurrency)
	for _, r := range active {
		id := r.ID
		g.Go(func() error {
			run, err := o.Stop(ctx, id)
			if IsInvalidTransition(err) || IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			stopped = append(stopped, *run)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	zap.L().Info("orchestrator: stop all",
		zap.String("component", "orchestrator"),
		zap.Int("active", len(active)),
		zap.Int("stopped", len(stopped)),
	)
	return stopped, err
}

// Complete marks a running run done. An empty message uses the default.
func (o *Orchestrator) Complete(ctx context.Context, runID, message string) (*model.Run, error) {
	if message == "" {
		message = model.MsgCompleted
	}
	return o.finish(ctx, runID, "complete", model.RunStatusDone, message)
}

// Fail marks a running run failed. An empty message uses the default.
func (o *Orchestrator) Fail(ctx context.Context, runID, message string) (*model.Run, error) {
	if message == "" {
		message = model.MsgWorkerFailed
	}
	return o.finish(ctx, runID, "fail", model.RunStatusFailed, message)
}

func (o *Orchestrator) finish(ctx context.Context, runID, op string, to model.RunStatus, message string) (*model.Run, error) {
	run, err := o.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunStatusRunning {
		return nil, &InvalidTransitionError{RunID: runID, Op: op, Status: run.Status}
	}

	total, err := o.store.CountLeads(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: count leads of run %s", runID)
	}
	progress := model.Progress{Total: total, Message: message, ExternalRunHandle: run.Progress.ExternalRunHandle}
	if err := o.transition(ctx, runID, op, []model.RunStatus{model.RunStatusRunning}, to, progress); err != nil {
		return nil, err
	}

	logger(runID).Info("orchestrator: run finished",
		zap.String("status", string(to)),
		zap.Int("leads", total),
		zap.String("message", message),
	)
	return o.Get(ctx, runID)
}

// Get returns a run by id.
func (o *Orchestrator) Get(ctx context.Context, runID string) (*model.Run, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, o.mapStoreErr(ctx, err, runID, "get")
	}
	return run, nil
}

// List returns runs newest first.
func (o *Orchestrator) List(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	runs, err := o.store.ListRuns(ctx, filter)
	return runs, eris.Wrap(err, "orchestrator: list runs")
}

// Leads returns the leads of an existing run.
func (o *Orchestrator) Leads(ctx context.Context, runID string, filter store.LeadFilter) ([]model.Lead, error) {
	if _, err := o.Get(ctx, runID); err != nil {
		return nil, err
	}
	leads, err := o.store.ListLeads(ctx, runID, filter)
	return leads, eris.Wrapf(err, "orchestrator: list leads of run %s", runID)
}

// Snapshot returns a run and all of its leads, best first. Leads never
// exceed max_leads so a single page covers them.
func (o *Orchestrator) Snapshot(ctx context.Context, runID string) (*model.Run, []model.Lead, error) {
	run, err := o.Get(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	leads, err := o.store.ListLeads(ctx, runID, store.LeadFilter{Limit: run.MaxLeads})
	if err != nil {
		return nil, nil, eris.Wrapf(err, "orchestrator: snapshot run %s", runID)
	}
	return run, leads, nil
}

// DeleteRun removes a run and its leads. A running worker is aborted first.
func (o *Orchestrator) DeleteRun(ctx context.Context, runID string) error {
	run, err := o.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == model.RunStatusRunning && run.Progress.ExternalRunHandle != "" {
		o.dispatcher.Abort(ctx, run.Progress.ExternalRunHandle)
	}
	if err := o.store.DeleteRun(ctx, runID); err != nil {
		return o.mapStoreErr(ctx, err, runID, "delete")
	}
	logger(runID).Info("orchestrator: run deleted", zap.String("status", string(run.Status)))
	return nil
}

// UpdateLead edits the notes or contacted date of a lead.
func (o *Orchestrator) UpdateLead(ctx context.Context, leadID string, upd model.LeadUpdate) (*model.Lead, error) {
	if err := validateLeadUpdate(upd); err != nil {
		return nil, err
	}
	lead, err := o.store.UpdateLead(ctx, leadID, upd)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "lead", ID: leadID}
	}
	return lead, eris.Wrapf(err, "orchestrator: update lead %s", leadID)
}

// transition applies a CAS and maps a lost race to InvalidTransitionError
// carrying the status that won.
func (o *Orchestrator) transition(ctx context.Context, runID, op string, from []model.RunStatus, to model.RunStatus, progress model.Progress) error {
	err := o.store.TransitionRun(ctx, runID, from, to, progress)
	if err == nil {
		return nil
	}
	return o.mapStoreErr(ctx, err, runID, op)
}

func (o *Orchestrator) mapStoreErr(ctx context.Context, err error, runID, op string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Kind: "run", ID: runID}
	case errors.Is(err, store.ErrStatusMismatch):
		current, gerr := o.store.GetRun(ctx, runID)
		if gerr != nil {
			return &InvalidTransitionError{RunID: runID, Op: op}
		}
		return &InvalidTransitionError{RunID: runID, Op: op, Status: current.Status}
	default:
		return eris.Wrapf(err, "orchestrator: %s run %s", op, runID)
	}
}
