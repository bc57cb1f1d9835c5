package orchestrator

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/scorer"
	"github.com/sells-group/leadgen/internal/store"
	"github.com/sells-group/leadgen/pkg/geocode"
)

// IngestLeads enriches raw worker leads and appends them to a running run.
// Leads beyond the run's max_leads are dropped. A run that is no longer
// running rejects the batch with *InvalidTransitionError; enrichment done
// for it is discarded.
func (o *Orchestrator) IngestLeads(ctx context.Context, runID string, raws []model.RawLead) (int, error) {
	log := logger(runID)

	run, err := o.Get(ctx, runID)
	if err != nil {
		return 0, err
	}
	if run.Status != model.RunStatusRunning {
		return 0, &InvalidTransitionError{RunID: runID, Op: "ingest leads for", Status: run.Status}
	}

	existing, err := o.store.CountLeads(ctx, runID)
	if err != nil {
		return 0, eris.Wrapf(err, "orchestrator: count leads of run %s", runID)
	}
	room := run.MaxLeads - existing
	if room <= 0 {
		log.Info("orchestrator: lead cap reached, batch dropped", zap.Int("batch", len(raws)))
		return 0, nil
	}
	if len(raws) > room {
		raws = raws[:room]
	}

	center := o.geocoder.GeocodeCenter(ctx, run.City, run.State)
	if center == nil {
		log.Warn("orchestrator: search center did not geocode, distances unavailable")
	}

	leads := make([]model.Lead, 0, len(raws))
	for _, raw := range raws {
		leads = append(leads, o.enrich(ctx, run, center, raw))
	}

	inserted, total, err := o.store.AppendLeads(ctx, runID, leads)
	switch {
	case errors.Is(err, store.ErrStatusMismatch):
		current, gerr := o.Get(ctx, runID)
		if gerr != nil {
			return 0, gerr
		}
		log.Info("orchestrator: run left running state during enrichment, batch discarded",
			zap.String("status", string(current.Status)))
		return 0, &InvalidTransitionError{RunID: runID, Op: "ingest leads for", Status: current.Status}
	case errors.Is(err, store.ErrNotFound):
		return 0, &NotFoundError{Kind: "run", ID: runID}
	case err != nil:
		return 0, eris.Wrapf(err, "orchestrator: append leads to run %s", runID)
	}

	log.Info("orchestrator: leads ingested", zap.Int("inserted", inserted), zap.Int("total", total))
	return inserted, nil
}

// enrich geocodes a lead, measures it against the run's search center and
// scores it. DistanceMiles is nil when the lead's address is absent or did
// not geocode, and also when the search center itself did not geocode.
func (o *Orchestrator) enrich(ctx context.Context, run *model.Run, center *geocode.Point, raw model.RawLead) model.Lead {
	if strings.TrimSpace(raw.Industry) == "" && len(run.Industries) == 1 {
		raw.Industry = run.Industries[0]
	}
	city, state := raw.City, raw.State
	if strings.TrimSpace(city) == "" {
		city = run.City
	}
	if strings.TrimSpace(state) == "" {
		state = run.State
	}

	var point *geocode.Point
	if strings.TrimSpace(raw.Address) != "" {
		point = o.geocoder.Geocode(ctx, raw.Address, city, state)
	}

	var distance *float64
	if point != nil && center != nil {
		d := math.Round(geocode.DistanceMiles(*center, *point)*100) / 100
		distance = &d
	}

	signals := scorer.SignalsFor(raw, point != nil, distance, run.RadiusMiles)
	return model.Lead{
		RawLead:       raw,
		DistanceMiles: distance,
		Confidence:    scorer.Confidence(signals),
	}
}
