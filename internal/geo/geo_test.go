package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceKm(t *testing.T) {
	t.Parallel()

	// Cape Town city centre to Constantia, roughly 12 km.
	d := DistanceKm(-33.9249, 18.4241, -34.0254, 18.4241)
	assert.InDelta(t, 11.2, d, 0.5)

	assert.Equal(t, 0.0, DistanceKm(-33.9, 18.4, -33.9, 18.4))
}

func TestBoundingBoxContainsRadius(t *testing.T) {
	t.Parallel()

	minLat, maxLat, minLng, maxLng := BoundingBox(-33.9249, 18.4241, 0.05)
	assert.Less(t, minLat, -33.9249)
	assert.Greater(t, maxLat, -33.9249)
	assert.Less(t, minLng, 18.4241)
	assert.Greater(t, maxLng, 18.4241)

	// Points just inside the radius fall inside the box.
	d := DistanceKm(-33.9249, 18.4241, minLat, 18.4241)
	assert.GreaterOrEqual(t, d, 0.05)
}

func TestEWKB(t *testing.T) {
	t.Parallel()

	data, err := EWKB(-33.9249, 18.4241)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestPointOrdering(t *testing.T) {
	t.Parallel()

	p := Point(-33.9249, 18.4241)
	assert.Equal(t, 18.4241, p.X()) // lng
	assert.Equal(t, -33.9249, p.Y()) // lat
	assert.Equal(t, 4326, p.SRID())
}
