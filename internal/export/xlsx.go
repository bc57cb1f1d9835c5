package export

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadgen/internal/model"
)

const sheetName = "Leads"

// WriteXLSX writes a single "Leads" sheet with the same header and columns
// as WriteCSV. Distance and confidence are written as numeric cells.
func WriteXLSX(w io.Writer, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range columns {
		header.AddCell().SetString(c)
	}

	for i := range leads {
		l := leads[i]
		row := sheet.AddRow()
		for j, v := range toRow(l).values() {
			cell := row.AddCell()
			switch {
			case columns[j] == "confidence":
				cell.SetFloat(l.Confidence)
			case columns[j] == "distance_miles" && l.DistanceMiles != nil:
				cell.SetFloat(*l.DistanceMiles)
			default:
				cell.SetString(v)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write file")
	}
	return nil
}

// ReadXLSX decodes a worker lead dump from the first sheet of a workbook.
// The first row is the header; columns are matched by name like ReadCSV.
func ReadXLSX(r io.Reader) ([]model.RawLead, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: read input")
	}
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	header := rowToStrings(sheet.Rows[0])
	var leads []model.RawLead
	for _, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		if blank(cells) {
			continue
		}
		var raw model.RawLead
		for i, name := range header {
			if i >= len(cells) {
				break
			}
			if set, ok := rawSetters[strings.ToLower(strings.TrimSpace(name))]; ok {
				set(&raw, strings.TrimSpace(cells[i]))
			}
		}
		leads = append(leads, raw)
	}
	return leads, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var rawSetters = map[string]func(*model.RawLead, string){
	"industry":          func(r *model.RawLead, v string) { r.Industry = v },
	"business_name":     func(r *model.RawLead, v string) { r.BusinessName = v },
	"address":           func(r *model.RawLead, v string) { r.Address = v },
	"city":              func(r *model.RawLead, v string) { r.City = v },
	"state":             func(r *model.RawLead, v string) { r.State = v },
	"zip":               func(r *model.RawLead, v string) { r.Zip = v },
	"phone":             func(r *model.RawLead, v string) { r.Phone = v },
	"website":           func(r *model.RawLead, v string) { r.Website = v },
	"employee_estimate": func(r *model.RawLead, v string) { r.EmployeeEstimate = v },
	"customer_estimate": func(r *model.RawLead, v string) { r.CustomerEstimate = v },
	"decision_maker":    func(r *model.RawLead, v string) { r.DecisionMaker = v },
	"notes":             func(r *model.RawLead, v string) { r.Notes = v },
	"source_url":        func(r *model.RawLead, v string) { r.SourceURL = v },
}
