package orchestrator

import (
	"fmt"
	"unicode/utf8"

	"github.com/sells-group/leadgen/internal/industry"
	"github.com/sells-group/leadgen/internal/model"
)

// Parameter bounds for new runs.
const (
	MaxCityLength  = 100
	MinRadiusMiles = 1
	MaxRadiusMiles = 100
	MinMaxLeads    = 1
	MaxMaxLeads    = 1000
	MaxNotesLength = 2000
)

// ValidateParams normalizes p and checks it against the bounds and the
// industry catalog. Industries are rewritten to their catalog keys.
func ValidateParams(p model.RunParams, catalog *industry.Catalog) (model.RunParams, error) {
	p = p.Normalize()
	ve := &ValidationError{}

	switch {
	case p.City == "":
		ve.add("city", "is required")
	case utf8.RuneCountInString(p.City) > MaxCityLength:
		ve.add("city", fmt.Sprintf("must be at most %d characters", MaxCityLength))
	}

	if !isStateCode(p.State) {
		ve.add("state", "must be a two-letter state code")
	}
	if p.RadiusMiles < MinRadiusMiles || p.RadiusMiles > MaxRadiusMiles {
		ve.add("radius_miles", fmt.Sprintf("must be between %d and %d", MinRadiusMiles, MaxRadiusMiles))
	}
	if p.MaxLeads < MinMaxLeads || p.MaxLeads > MaxMaxLeads {
		ve.add("max_leads", fmt.Sprintf("must be between %d and %d", MinMaxLeads, MaxMaxLeads))
	}

	if len(p.Industries) == 0 {
		ve.add("industries", "at least one industry is required")
	} else {
		keys := make([]string, 0, len(p.Industries))
		seen := make(map[string]bool, len(p.Industries))
		for _, name := range p.Industries {
			ind, ok := catalog.Lookup(name)
			if !ok {
				ve.add("industries", fmt.Sprintf("unknown industry %q", name))
				continue
			}
			if seen[ind.Key] {
				continue
			}
			seen[ind.Key] = true
			keys = append(keys, ind.Key)
		}
		p.Industries = keys
	}

	if len(ve.Fields) > 0 {
		return p, ve
	}
	return p, nil
}

func validateLeadUpdate(upd model.LeadUpdate) error {
	ve := &ValidationError{}
	if upd.Notes != nil && utf8.RuneCountInString(*upd.Notes) > MaxNotesLength {
		ve.add("notes", fmt.Sprintf("must be at most %d characters", MaxNotesLength))
	}
	if upd.ClearContact && upd.ContactedDate != nil {
		ve.add("contacted_date", "cannot set and clear in the same update")
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

func isStateCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
