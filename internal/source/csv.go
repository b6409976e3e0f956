package source

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/placeforge/ingest-cli/internal/model"
)

// CSVOptions configures the CSV reader.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// ReadCSVFile parses a CSV file with a header row into candidate records.
func ReadCSVFile(path string) ([]model.CandidateRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open csv %s", path)
	}
	defer f.Close() //nolint:errcheck

	return ReadCSV(f, CSVOptions{})
}

// ReadCSV parses CSV content with a header row. Rows without a name cell are
// skipped.
func ReadCSV(r io.Reader, opts CSVOptions) ([]model.CandidateRecord, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "source: read csv header")
	}
	idx := indexHeader(header)
	if _, ok := idx["name"]; !ok {
		return nil, eris.New("source: csv header has no name column")
	}

	var records []model.CandidateRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "source: read csv row")
		}
		rec := idx.rowToRecord(row)
		if rec.Name == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
