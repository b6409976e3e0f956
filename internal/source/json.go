package source

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/placeforge/ingest-cli/internal/model"
)

// ReadJSONFile parses a JSON array of candidate records.
func ReadJSONFile(path string) ([]model.CandidateRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open json %s", path)
	}
	defer f.Close() //nolint:errcheck

	return ReadJSON(f)
}

// ReadJSON decodes a JSON array of records, skipping entries without a name.
func ReadJSON(r io.Reader) ([]model.CandidateRecord, error) {
	var raw []model.CandidateRecord
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "source: decode json")
	}

	records := raw[:0]
	for _, rec := range raw {
		if rec.Name == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
