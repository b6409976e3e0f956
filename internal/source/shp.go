package source

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/placeforge/ingest-cli/internal/model"
)

// ReadShapefile parses a point shapefile into candidate records. Attribute
// fields are mapped through the same header aliases as tabular sources; the
// point geometry becomes the record location. Non-point shapes are skipped.
func ReadShapefile(path string) ([]model.CandidateRecord, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = strings.TrimRight(f.String(), "\x00")
	}
	idx := indexHeader(header)
	if _, ok := idx["name"]; !ok {
		return nil, eris.New("source: shapefile has no name attribute")
	}

	var records []model.CandidateRecord
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		row := make([]string, len(fields))
		for i := range fields {
			row[i] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		rec := idx.rowToRecord(row)
		if rec.Name == "" {
			skipped++
			continue
		}

		point, ok := shape.(*shp.Point)
		if !ok {
			skipped++
			continue
		}
		rec.Location = &model.Location{Lat: point.Y, Lng: point.X}
		records = append(records, rec)
	}

	if skipped > 0 {
		zap.L().Debug("shapefile records skipped",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return records, nil
}
