package model

import "time"

// RawLead is a business record as reported by the scraping worker, before
// enrichment.
type RawLead struct {
	Industry         string `json:"industry" csv:"industry"`
	BusinessName     string `json:"business_name" csv:"business_name"`
	Address          string `json:"address" csv:"address"`
	City             string `json:"city" csv:"city"`
	State            string `json:"state" csv:"state"`
	Zip              string `json:"zip" csv:"zip"`
	Phone            string `json:"phone" csv:"phone"`
	Website          string `json:"website" csv:"website"`
	EmployeeEstimate string `json:"employee_estimate" csv:"employee_estimate"`
	CustomerEstimate string `json:"customer_estimate" csv:"customer_estimate"`
	DecisionMaker    string `json:"decision_maker" csv:"decision_maker"`
	Notes            string `json:"notes" csv:"notes"`
	SourceURL        string `json:"source_url" csv:"source_url"`
}

// Lead is one enriched business record belonging to a run.
type Lead struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	RawLead
	ContactedDate *time.Time `json:"contacted_date,omitempty"`
	DistanceMiles *float64   `json:"distance_miles,omitempty"`
	Confidence    float64    `json:"confidence"`
	CreatedAt     time.Time  `json:"created_at"`
}

// LeadUpdate carries the user-editable fields of a lead. A nil field is
// left unchanged.
type LeadUpdate struct {
	Notes         *string    `json:"notes,omitempty"`
	ContactedDate *time.Time `json:"contacted_date,omitempty"`
	ClearContact  bool       `json:"clear_contacted_date,omitempty"`
}
