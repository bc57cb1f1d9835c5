package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/leadgen/internal/model"
)

const leadColumns = `id, run_id, industry, business_name, address, city, state, zip, phone, website,
	employee_estimate, customer_estimate, decision_maker, notes, contacted_date, source_url,
	distance_miles, confidence, created_at`

// leadColumnNames mirrors leadColumns for COPY.
var leadColumnNames = []string{
	"id", "run_id", "industry", "business_name", "address", "city", "state", "zip", "phone", "website",
	"employee_estimate", "customer_estimate", "decision_maker", "notes", "contacted_date", "source_url",
	"distance_miles", "confidence", "created_at",
}

func leadValues(l model.Lead) []any {
	return []any{
		l.ID, l.RunID, l.Industry, l.BusinessName, l.Address, l.City, l.State, l.Zip, l.Phone, l.Website,
		l.EmployeeEstimate, l.CustomerEstimate, l.DecisionMaker, l.Notes, l.ContactedDate, l.SourceURL,
		l.DistanceMiles, l.Confidence, l.CreatedAt,
	}
}

// stampLead assigns the identity fields a lead gets at insert time.
func stampLead(l *model.Lead, runID string, now time.Time) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.RunID = runID
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
}

// capLeads returns a copy of at most room leads.
func capLeads(leads []model.Lead, room int) []model.Lead {
	if room <= 0 {
		return nil
	}
	if len(leads) > room {
		leads = leads[:room]
	}
	out := make([]model.Lead, len(leads))
	copy(out, leads)
	return out
}

// leadUpdateSets returns the column names and values to assign for upd.
func leadUpdateSets(upd model.LeadUpdate) ([]string, []any) {
	var cols []string
	var args []any
	if upd.Notes != nil {
		cols = append(cols, "notes")
		args = append(args, *upd.Notes)
	}
	switch {
	case upd.ClearContact:
		cols = append(cols, "contacted_date")
		args = append(args, nil)
	case upd.ContactedDate != nil:
		cols = append(cols, "contacted_date")
		args = append(args, upd.ContactedDate.UTC())
	}
	return cols, args
}
