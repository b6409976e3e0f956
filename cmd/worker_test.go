package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placeforge/ingest-cli/internal/model"
)

func TestRunValidateJob(t *testing.T) {
	payload, err := json.Marshal(model.CandidateRecord{
		Name:    "Truth Coffee Roasting",
		Address: "36 Buitenkant St, Cape Town",
		Phone:   "021 200 0440",
	})
	require.NoError(t, err)

	out, err := runValidateJob(context.Background(), &model.Job{Payload: payload})
	require.NoError(t, err)

	var validation model.Validation
	require.NoError(t, json.Unmarshal(out, &validation))
	assert.True(t, validation.IsValid)
}

func TestRunValidateJob_BadPayload(t *testing.T) {
	_, err := runValidateJob(context.Background(), &model.Job{Payload: []byte("not json")})
	require.Error(t, err)
}

func TestRunIngestJob_NoItems(t *testing.T) {
	payload, err := json.Marshal(ingestJobPayload{})
	require.NoError(t, err)

	_, err = runIngestJob(context.Background(), &env{}, &model.Job{Payload: payload})
	require.Error(t, err)
}

func TestRunEnrichJob_MissingPlace(t *testing.T) {
	e := newTestEnv(t)

	payload, err := json.Marshal(enrichJobPayload{PlaceID: "missing", Name: "X"})
	require.NoError(t, err)

	_, err = runEnrichJob(context.Background(), e, &model.Job{Payload: payload})
	require.Error(t, err)
}
