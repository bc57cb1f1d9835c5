// Package export renders run leads as CSV or XLSX, reads worker lead dumps
// back in, and pushes rendered files to S3-compatible object storage.
package export

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/model"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat resolves a user supplied format name. An empty name selects CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("export: unsupported format %q", s)
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename returns the download name for a run's export.
func (f Format) Filename(runID string) string {
	return fmt.Sprintf("leads-%s.%s", runID, f)
}

// Write renders leads in the given format.
func Write(w io.Writer, f Format, leads []model.Lead) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, leads)
	case FormatXLSX:
		return WriteXLSX(w, leads)
	default:
		return eris.Errorf("export: unsupported format %q", f)
	}
}

// Render is Write into a buffer.
func Render(f Format, leads []model.Lead) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, f, leads); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// columns is the shared header for both formats. Files written here can be
// read back by ReadCSV and ReadXLSX.
var columns = []string{
	"business_name", "industry", "address", "city", "state", "zip",
	"phone", "website", "employee_estimate", "customer_estimate",
	"decision_maker", "distance_miles", "confidence", "contacted_date",
	"notes", "source_url",
}

// leadRow is the flattened export shape of a lead.
type leadRow struct {
	BusinessName     string `csv:"business_name"`
	Industry         string `csv:"industry"`
	Address          string `csv:"address"`
	City             string `csv:"city"`
	State            string `csv:"state"`
	Zip              string `csv:"zip"`
	Phone            string `csv:"phone"`
	Website          string `csv:"website"`
	EmployeeEstimate string `csv:"employee_estimate"`
	CustomerEstimate string `csv:"customer_estimate"`
	DecisionMaker    string `csv:"decision_maker"`
	DistanceMiles    string `csv:"distance_miles"`
	Confidence       string `csv:"confidence"`
	ContactedDate    string `csv:"contacted_date"`
	Notes            string `csv:"notes"`
	SourceURL        string `csv:"source_url"`
}

func toRow(l model.Lead) leadRow {
	r := leadRow{
		BusinessName:     l.BusinessName,
		Industry:         l.Industry,
		Address:          l.Address,
		City:             l.City,
		State:            l.State,
		Zip:              l.Zip,
		Phone:            l.Phone,
		Website:          l.Website,
		EmployeeEstimate: l.EmployeeEstimate,
		CustomerEstimate: l.CustomerEstimate,
		DecisionMaker:    l.DecisionMaker,
		Confidence:       fmt.Sprintf("%.2f", l.Confidence),
		Notes:            l.Notes,
		SourceURL:        l.SourceURL,
	}
	if l.DistanceMiles != nil {
		r.DistanceMiles = fmt.Sprintf("%.2f", *l.DistanceMiles)
	}
	if l.ContactedDate != nil {
		r.ContactedDate = l.ContactedDate.UTC().Format("2006-01-02")
	}
	return r
}

func (r leadRow) values() []string {
	return []string{
		r.BusinessName, r.Industry, r.Address, r.City, r.State, r.Zip,
		r.Phone, r.Website, r.EmployeeEstimate, r.CustomerEstimate,
		r.DecisionMaker, r.DistanceMiles, r.Confidence, r.ContactedDate,
		r.Notes, r.SourceURL,
	}
}
