package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
}

func TestJobKindValid(t *testing.T) {
	t.Parallel()

	for _, k := range []JobKind{JobKindScrape, JobKindIngest, JobKindEnrich, JobKindValidate} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, JobKind("transcode").Valid())
	assert.False(t, JobKind("").Valid())
}

func TestExistingRecordCandidate(t *testing.T) {
	t.Parallel()

	e := ExistingRecord{
		ID:      "p1",
		Name:    "La Colombe",
		Address: "Silvermist Estate",
		Phone:   "+27 21 794 2390",
		Website: "https://lacolombe.restaurant",
		Location: &Location{Lat: -34.011, Lng: 18.406},
	}

	c := e.Candidate()
	assert.Equal(t, e.Name, c.Name)
	assert.Equal(t, e.Phone, c.Phone)
	assert.Equal(t, e.Website, c.Website)
	assert.Equal(t, e.Location, c.Location)
}

func TestLocationZero(t *testing.T) {
	t.Parallel()

	assert.True(t, Location{}.Zero())
	assert.False(t, Location{Lat: -33.9}.Zero())
}
