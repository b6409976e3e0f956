package source

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

const sampleCSV = `name,address,phone,rating,latitude,longitude,confidence
Truth Coffee,36 Buitenkant St,021 200 0440,4.6,-33.9274,18.4233,90
,missing name row,,,,,
Ocean Basket,V&A Waterfront,,4.1,,,70
`

func TestReadCSV(t *testing.T) {
	records, err := ReadCSV(strings.NewReader(sampleCSV), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2, "rows without a name are skipped")

	first := records[0]
	assert.Equal(t, "Truth Coffee", first.Name)
	assert.Equal(t, "021 200 0440", first.Phone)
	assert.Equal(t, 4.6, first.Rating)
	assert.Equal(t, 90.0, first.Confidence)
	require.NotNil(t, first.Location)
	assert.InDelta(t, -33.9274, first.Location.Lat, 1e-9)

	assert.Nil(t, records[1].Location, "missing coordinates leave location unset")
}

func TestReadCSV_HeaderAliases(t *testing.T) {
	csv := "Business_Name,Telephone,URL\nKota Joe,0312223333,kotajoe.co.za\n"
	records, err := ReadCSV(strings.NewReader(csv), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Kota Joe", records[0].Name)
	assert.Equal(t, "0312223333", records[0].Phone)
	assert.Equal(t, "kotajoe.co.za", records[0].Website)
}

func TestReadCSV_NoNameColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("foo,bar\n1,2\n"), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no name column")
}

func TestReadCSV_Empty(t *testing.T) {
	records, err := ReadCSV(strings.NewReader(""), CSVOptions{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadJSON(t *testing.T) {
	input := `[
		{"name": "Truth Coffee", "phone": "0212000440", "location": {"lat": -33.9, "lng": 18.4}},
		{"name": "", "phone": "ignored"},
		{"name": "Ocean Basket", "rating": 4.1}
	]`
	records, err := ReadJSON(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Truth Coffee", records[0].Name)
	require.NotNil(t, records[0].Location)
	assert.Equal(t, 4.1, records[1].Rating)
}

func TestReadJSON_Malformed(t *testing.T) {
	_, err := ReadJSON(strings.NewReader(`{"not": "an array"}`))
	require.Error(t, err)
}

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.xlsx")

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Places")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"name", "address", "rating"},
		{"Truth Coffee", "36 Buitenkant St", "4.6"},
		{"", "skipped", ""},
		{"Ocean Basket", "V&A Waterfront", "4.1"},
	} {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}
	require.NoError(t, f.Save(path))

	records, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Truth Coffee", records[0].Name)
	assert.Equal(t, 4.6, records[0].Rating)
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.xlsx")
	f := xlsx.NewFile()
	_, err := f.AddSheet("Places")
	require.NoError(t, err)
	require.NoError(t, f.Save(path))

	_, err = ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
}

func TestReadShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.shp")

	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NAME", 60),
		shp.StringField("ADDRESS", 80),
	}))
	w.Write(&shp.Point{X: 18.4233, Y: -33.9274})
	require.NoError(t, w.WriteAttribute(0, 0, "Truth Coffee"))
	require.NoError(t, w.WriteAttribute(0, 1, "36 Buitenkant St"))
	w.Write(&shp.Point{X: 28.0473, Y: -26.2041})
	require.NoError(t, w.WriteAttribute(1, 0, "Father Coffee"))
	w.Close()

	records, err := ReadShapefile(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Truth Coffee", records[0].Name)
	require.NotNil(t, records[0].Location)
	assert.InDelta(t, -33.9274, records[0].Location.Lat, 1e-6)
	assert.InDelta(t, 18.4233, records[0].Location.Lng, 1e-6)
}

func TestReadZipFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.zip")

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("export/places.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	records, err := ReadZipFile(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Truth Coffee", records[0].Name)
}

func TestReadZipFile_NoDataFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.zip")

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("nothing here"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = ReadZipFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no supported data file")
}

func TestReadFile_UnsupportedExtension(t *testing.T) {
	_, err := ReadFile("places.parquet")
	require.Error(t, err)
}

func TestDownloadIfChanged(t *testing.T) {
	const etag = `"v1"`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Write([]byte(sampleCSV)) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewFetcher(0)
	ctx := context.Background()

	body, gotETag, changed, err := f.DownloadIfChanged(ctx, srv.URL, "")
	require.NoError(t, err)
	require.True(t, changed)
	body.Close() //nolint:errcheck
	assert.Equal(t, etag, gotETag)

	body, gotETag, changed, err = f.DownloadIfChanged(ctx, srv.URL, etag)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, body)
	assert.Equal(t, etag, gotETag)
}

func TestFetchFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCSV)) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewFetcher(0)
	records, _, err := f.FetchFile(context.Background(), srv.URL+"/places.csv", t.TempDir(), "")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
