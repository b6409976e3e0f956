// Package geo holds small geodesy helpers shared by the stores and pipeline.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

const earthRadiusKm = 6371.0

// Point builds a WGS84 point. go-geom uses lng/lat (x/y) ordering.
func Point(lat, lng float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(4326)
}

// EWKB encodes a lat/lng pair as EWKB bytes with SRID 4326, suitable for a
// PostGIS geometry column.
func EWKB(lat, lng float64) ([]byte, error) {
	data, err := ewkb.Marshal(Point(lat, lng), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode EWKB")
	}
	return data, nil
}

// DistanceKm computes the haversine distance between two coordinates.
func DistanceKm(aLat, aLng, bLat, bLng float64) float64 {
	dLat := radians(bLat - aLat)
	dLng := radians(bLng - aLng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(aLat))*math.Cos(radians(bLat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// BoundingBox returns a lat/lng box that contains the circle of radiusKm
// around the center, for cheap SQL pre-filtering before exact distance checks.
func BoundingBox(lat, lng, radiusKm float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := radiusKm / earthRadiusKm * (180 / math.Pi)
	minLat, maxLat = lat-dLat, lat+dLat

	// Longitude degrees shrink with latitude.
	cos := math.Cos(radians(lat))
	if cos < 1e-9 {
		return minLat, maxLat, -180, 180
	}
	dLng := dLat / cos
	return minLat, maxLat, lng - dLng, lng + dLng
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
