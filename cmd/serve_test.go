package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placeforge/ingest-cli/internal/model"
	"github.com/placeforge/ingest-cli/internal/scheduler"
	"github.com/placeforge/ingest-cli/internal/store"
)

func newTestEnv(t *testing.T) *env {
	t.Helper()

	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	return &env{
		Store:     st,
		Scheduler: scheduler.New(st, scheduler.Config{}),
	}
}

func TestServe_Stats(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Active)
}

func TestServe_CreateAndGetJob(t *testing.T) {
	router := newRouter(newTestEnv(t))

	body := `{"kind": "validate", "priority": 3, "payload": {"name": "Truth Coffee"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobKindValidate, job.Kind)
	assert.Equal(t, model.JobStatusPending, job.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, 3, fetched.Priority)
}

func TestServe_CreateJob_InvalidKind(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(`{"kind": "launch"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe_GetJob_NotFound(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_Ingest(t *testing.T) {
	e := newTestEnv(t)
	router := newRouter(e)

	body := `{"items": ["Truth Coffee, 36 Buitenkant St, 021 200 0440"], "source": "api", "priority": 5}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewBufferString(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, model.JobKindIngest, job.Kind)
	assert.Equal(t, 5, job.Priority)

	stored, err := e.Store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	var payload ingestJobPayload
	require.NoError(t, json.Unmarshal(stored.Payload, &payload))
	assert.Len(t, payload.Items, 1)
}

func TestServe_Ingest_NoItems(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewBufferString(`{"items": []}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
