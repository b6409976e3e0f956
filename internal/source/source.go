// Package source reads raw candidate records from the formats map-data dumps
// and scraper exports arrive in: CSV, JSON, XLSX, point shapefiles, zipped
// dumps, and remote files over HTTP.
package source

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/placeforge/ingest-cli/internal/model"
)

// ReadFile parses a local file into candidate records, picking the reader by
// extension.
func ReadFile(path string) ([]model.CandidateRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSVFile(path)
	case ".json":
		return ReadJSONFile(path)
	case ".xlsx":
		return ReadXLSX(path, XLSXOptions{})
	case ".shp":
		return ReadShapefile(path)
	case ".zip":
		return ReadZipFile(path)
	default:
		return nil, eris.Errorf("source: unsupported file type %q", filepath.Ext(path))
	}
}

// columnIndex maps known header names to cell positions. Matching is
// case-insensitive and tolerates a few common aliases.
type columnIndex map[string]int

var headerAliases = map[string]string{
	"name":          "name",
	"business_name": "name",
	"title":         "name",
	"address":       "address",
	"street":        "address",
	"phone":         "phone",
	"telephone":     "phone",
	"tel":           "phone",
	"email":         "email",
	"e-mail":        "email",
	"website":       "website",
	"url":           "website",
	"web":           "website",
	"category":      "category",
	"type":          "category",
	"rating":        "rating",
	"lat":           "lat",
	"latitude":      "lat",
	"lng":           "lng",
	"lon":           "lng",
	"longitude":     "lng",
	"confidence":    "confidence",
}

func indexHeader(header []string) columnIndex {
	idx := make(columnIndex)
	for i, col := range header {
		key := strings.ToLower(strings.TrimSpace(col))
		if canonical, ok := headerAliases[key]; ok {
			if _, seen := idx[canonical]; !seen {
				idx[canonical] = i
			}
		}
	}
	return idx
}

func (c columnIndex) cell(row []string, field string) string {
	i, ok := c[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// rowToRecord builds a record from one tabular row. Rows without a name are
// rejected upstream by returning a zero-name record the caller filters.
func (c columnIndex) rowToRecord(row []string) model.CandidateRecord {
	rec := model.CandidateRecord{
		Name:     c.cell(row, "name"),
		Address:  c.cell(row, "address"),
		Phone:    c.cell(row, "phone"),
		Email:    c.cell(row, "email"),
		Website:  c.cell(row, "website"),
		Category: c.cell(row, "category"),
	}
	if v := c.cell(row, "rating"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.Rating = f
		}
	}
	if v := c.cell(row, "confidence"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.Confidence = f
		}
	}
	lat, latErr := strconv.ParseFloat(c.cell(row, "lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.cell(row, "lng"), 64)
	if latErr == nil && lngErr == nil {
		rec.Location = &model.Location{Lat: lat, Lng: lng}
	}
	return rec
}
