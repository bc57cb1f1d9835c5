package export

import (
	"encoding/csv"
	"errors"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/model"
)

// WriteCSV writes a header row followed by one row per lead. The header is
// written even when leads is empty.
func WriteCSV(w io.Writer, leads []model.Lead) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if err := enc.EncodeHeader(leadRow{}); err != nil {
		return eris.Wrap(err, "csv: encode header")
	}
	for i := range leads {
		if err := enc.Encode(toRow(leads[i])); err != nil {
			return eris.Wrapf(err, "csv: encode lead %s", leads[i].ID)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "csv: flush")
	}
	return nil
}

// ReadCSV decodes a worker lead dump. Columns are matched by header name;
// unknown columns are ignored and missing ones are left blank.
func ReadCSV(r io.Reader) ([]model.RawLead, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "csv: read header")
	}

	var leads []model.RawLead
	for {
		var raw model.RawLead
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv: decode row %d", len(leads)+1)
		}
		leads = append(leads, raw)
	}
	return leads, nil
}
