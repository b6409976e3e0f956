package source

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/placeforge/ingest-cli/internal/model"
)

// Shapefiles ship with sidecar files, so extraction order matters less than
// which extracted file we hand to the parser.
var zipPreference = []string{".shp", ".csv", ".json", ".xlsx"}

// ReadZipFile extracts a zipped data dump to a temp directory and parses the
// first supported file inside.
func ReadZipFile(path string) ([]model.CandidateRecord, error) {
	dir, err := os.MkdirTemp("", "ingest-zip-*")
	if err != nil {
		return nil, eris.Wrap(err, "source: temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	extracted, err := extractZip(path, dir)
	if err != nil {
		return nil, err
	}

	for _, ext := range zipPreference {
		for _, f := range extracted {
			if strings.EqualFold(filepath.Ext(f), ext) {
				zap.L().Debug("parsing archive member",
					zap.String("archive", path),
					zap.String("member", filepath.Base(f)),
				)
				return ReadFile(f)
			}
		}
	}
	return nil, eris.Errorf("source: no supported data file in %s", path)
}

// extractZip unpacks an archive into dir and returns the extracted paths.
// Entries that would escape dir are rejected.
func extractZip(path, dir string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, eris.Wrap(err, "source: open zip")
	}
	defer r.Close() //nolint:errcheck

	var out []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}

		dest := filepath.Join(dir, filepath.Base(f.Name))
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
			return nil, eris.Errorf("source: unsafe zip entry %q", f.Name)
		}

		if err := extractZipEntry(f, dest); err != nil {
			return nil, err
		}
		out = append(out, dest)
	}
	return out, nil
}

func extractZipEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "source: open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	w, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "source: create %s", dest)
	}
	defer w.Close() //nolint:errcheck

	if _, err := io.Copy(w, rc); err != nil {
		return eris.Wrapf(err, "source: extract %s", f.Name)
	}
	return nil
}
