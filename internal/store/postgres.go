package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/placeforge/ingest-cli/internal/db"
	"github.com/placeforge/ingest-cli/internal/geo"
	"github.com/placeforge/ingest-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. Place locations are kept in a
// PostGIS geometry column so FindNear can use an index-backed ST_DWithin.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS jobs (
	id            UUID PRIMARY KEY,
	kind          TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 3,
	payload       BYTEA,
	result        BYTEA,
	error_message TEXT,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS places (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	address    TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	website    TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	rating     DOUBLE PRECISION NOT NULL DEFAULT 0,
	location   GEOMETRY(Point, 4326),
	photos     JSONB,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	source     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_status_started ON jobs(status, started_at);
CREATE INDEX IF NOT EXISTS idx_places_name ON places(name text_pattern_ops);
CREATE INDEX IF NOT EXISTS idx_places_location ON places USING GIST(location);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = model.DefaultMaxAttempts
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, kind, source, city, category, status, priority, attempts, max_attempts, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, string(job.Kind), job.Source, job.City, job.Category, string(job.Status),
		job.Priority, job.Attempts, job.MaxAttempts, job.Payload, job.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert job")
}

const pgJobColumns = `id, kind, source, city, category, status, priority, attempts, max_attempts,
	payload, result, error_message, started_at, completed_at, created_at`

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, id)

	j, err := scanPgJob(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + pgJobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND kind = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list jobs scan")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, started_at = $2, attempts = attempts + 1 WHERE id = $3`,
		string(model.JobStatusProcessing), startedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark processing %s", id)
	}
	return checkPgRowsAffected(tag.RowsAffected(), "job", id)
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, result []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, result = $2, completed_at = $3 WHERE id = $4`,
		string(model.JobStatusCompleted), result, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	return checkPgRowsAffected(tag.RowsAffected(), "job", id)
}

func (s *PostgresStore) RescheduleJob(ctx context.Context, id string, attempts int, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, attempts = $2, error_message = $3, started_at = NULL WHERE id = $4`,
		string(model.JobStatusPending), attempts, errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reschedule job %s", id)
	}
	return checkPgRowsAffected(tag.RowsAffected(), "job", id)
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, attempts int, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, attempts = $2, error_message = $3, completed_at = $4 WHERE id = $5`,
		string(model.JobStatusFailed), attempts, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	return checkPgRowsAffected(tag.RowsAffected(), "job", id)
}

func (s *PostgresStore) CancelJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, completed_at = $2 WHERE id = $3 AND status IN ($4, $5)`,
		string(model.JobStatusCancelled), time.Now().UTC(), id,
		string(model.JobStatusPending), string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: cancel job %s", id)
	}
	return checkPgRowsAffected(tag.RowsAffected(), "job", id)
}

func (s *PostgresStore) StaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgJobColumns+` FROM jobs WHERE status = $1 AND started_at IS NOT NULL AND started_at < $2`,
		string(model.JobStatusProcessing), cutoff.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stale jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: stale jobs scan")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: stale jobs iterate")
}

func (s *PostgresStore) ResetStaleJob(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, started_at = NULL WHERE id = $3 AND status = $4`,
		string(model.JobStatusPending), reason, id, string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reset stale job %s", id)
	}
	return checkPgRowsAffected(tag.RowsAffected(), "job", id)
}

// --- places ---

func (s *PostgresStore) FindCandidates(ctx context.Context, namePrefix string, limit int) ([]model.ExistingRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, address, phone, email, website, ST_Y(location), ST_X(location)
		 FROM places WHERE name ILIKE $1 || '%' LIMIT $2`,
		namePrefix, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find candidates")
	}
	defer rows.Close()
	return scanPgPlaces(rows)
}

func (s *PostgresStore) FindNear(ctx context.Context, lat, lng, radiusKm float64) ([]model.ExistingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, address, phone, email, website, ST_Y(location), ST_X(location)
		 FROM places
		 WHERE location IS NOT NULL
		   AND ST_DWithin(location::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)`,
		lng, lat, radiusKm*1000,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find near")
	}
	defer rows.Close()
	return scanPgPlaces(rows)
}

func (s *PostgresStore) BulkInsert(ctx context.Context, records []model.CandidateRecord, source, category string) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	columns := []string{"id", "name", "address", "phone", "email", "website", "category",
		"rating", "location", "photos", "confidence", "source", "created_at"}

	now := time.Now().UTC()
	ids := make([]string, 0, len(records))
	copyRows := make([][]any, 0, len(records))

	for _, rec := range records {
		id := uuid.New().String()

		cat := rec.Category
		if cat == "" {
			cat = category
		}
		var location any
		if rec.Location != nil {
			ewkb, err := geo.EWKB(rec.Location.Lat, rec.Location.Lng)
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: encode location for %q", rec.Name)
			}
			location = ewkb
		}
		photosJSON, err := json.Marshal(rec.Photos)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal photos")
		}

		copyRows = append(copyRows, []any{
			id, rec.Name, rec.Address, rec.Phone, rec.Email, rec.Website, cat,
			rec.Rating, location, photosJSON, rec.Confidence, source, now,
		})
		ids = append(ids, id)
	}

	if _, err := db.CopyFrom(ctx, s.pool, "places", columns, copyRows); err != nil {
		return nil, eris.Wrap(err, "postgres: bulk insert places")
	}
	return ids, nil
}

func (s *PostgresStore) GetPlace(ctx context.Context, id string) (*model.ExistingRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, address, phone, email, website, ST_Y(location), ST_X(location)
		 FROM places WHERE id = $1`, id)

	rec, err := scanPgPlace(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get place %s", id)
	}
	return rec, nil
}

// --- helpers ---

func checkPgRowsAffected(n int64, entity, id string) error {
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var kind, status string
	var errMsg *string
	var startedAt, completedAt *time.Time

	err := row.Scan(&j.ID, &kind, &j.Source, &j.City, &j.Category, &status,
		&j.Priority, &j.Attempts, &j.MaxAttempts, &j.Payload, &j.Result,
		&errMsg, &startedAt, &completedAt, &j.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.New("job not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan job")
	}

	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	if errMsg != nil {
		j.Error = *errMsg
	}
	j.StartedAt = startedAt
	j.CompletedAt = completedAt
	return &j, nil
}

func scanPgPlace(row pgx.Row) (*model.ExistingRecord, error) {
	var rec model.ExistingRecord
	var lat, lng *float64

	err := row.Scan(&rec.ID, &rec.Name, &rec.Address, &rec.Phone, &rec.Email, &rec.Website, &lat, &lng)
	if err == pgx.ErrNoRows {
		return nil, eris.New("place not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan place")
	}
	if lat != nil && lng != nil {
		rec.Location = &model.Location{Lat: *lat, Lng: *lng}
	}
	return &rec, nil
}

func scanPgPlaces(rows pgx.Rows) ([]model.ExistingRecord, error) {
	var records []model.ExistingRecord
	for rows.Next() {
		rec, err := scanPgPlace(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "iterate places")
}
