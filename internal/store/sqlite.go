package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/placeforge/ingest-cli/internal/geo"
	"github.com/placeforge/ingest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	priority     INTEGER NOT NULL DEFAULT 0,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	payload      BLOB,
	result       BLOB,
	error_message TEXT,
	started_at   DATETIME,
	completed_at DATETIME,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS places (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	address    TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	website    TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	rating     REAL NOT NULL DEFAULT 0,
	lat        REAL,
	lng        REAL,
	photos     TEXT,
	confidence REAL NOT NULL DEFAULT 0,
	source     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_kind ON jobs(kind);
CREATE INDEX IF NOT EXISTS idx_jobs_status_started ON jobs(status, started_at);
CREATE INDEX IF NOT EXISTS idx_places_name ON places(name);
CREATE INDEX IF NOT EXISTS idx_places_lat_lng ON places(lat, lng);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, source, city, category, status, priority, attempts, max_attempts, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.Source, job.City, job.Category, string(job.Status),
		job.Priority, job.Attempts, job.MaxAttempts, job.Payload, job.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

const jobColumns = `id, kind, source, city, category, status, priority, attempts, max_attempts,
	payload, result, error_message, started_at, completed_at, created_at`

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ?, attempts = attempts + 1 WHERE id = ?`,
		string(model.JobStatusProcessing), startedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark processing %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, result []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		string(model.JobStatusCompleted), result, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) RescheduleJob(ctx context.Context, id string, attempts int, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = ?, error_message = ?, started_at = NULL WHERE id = ?`,
		string(model.JobStatusPending), attempts, errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reschedule job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, attempts int, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(model.JobStatusFailed), attempts, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) CancelJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(model.JobStatusCancelled), time.Now().UTC(), id,
		string(model.JobStatusPending), string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: cancel job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) StaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		string(model.JobStatusProcessing), cutoff.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stale jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: stale jobs iterate")
}

func (s *SQLiteStore) ResetStaleJob(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, started_at = NULL WHERE id = ? AND status = ?`,
		string(model.JobStatusPending), reason, id, string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reset stale job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

// --- places ---

func (s *SQLiteStore) FindCandidates(ctx context.Context, namePrefix string, limit int) ([]model.ExistingRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, address, phone, email, website, lat, lng FROM places
		 WHERE name LIKE ? || '%' COLLATE NOCASE LIMIT ?`,
		namePrefix, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find candidates")
	}
	defer rows.Close()
	return scanPlaces(rows)
}

func (s *SQLiteStore) FindNear(ctx context.Context, lat, lng, radiusKm float64) ([]model.ExistingRecord, error) {
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(lat, lng, radiusKm)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, address, phone, email, website, lat, lng FROM places
		 WHERE lat IS NOT NULL AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`,
		minLat, maxLat, minLng, maxLng,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find near")
	}
	defer rows.Close()

	boxed, err := scanPlaces(rows)
	if err != nil {
		return nil, err
	}

	// Exact distance check after the box pre-filter.
	var near []model.ExistingRecord
	for _, rec := range boxed {
		if rec.Location == nil {
			continue
		}
		if geo.DistanceKm(lat, lng, rec.Location.Lat, rec.Location.Lng) <= radiusKm {
			near = append(near, rec)
		}
	}
	return near, nil
}

func (s *SQLiteStore) BulkInsert(ctx context.Context, records []model.CandidateRecord, source, category string) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin bulk insert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO places (id, name, address, phone, email, website, category, rating, lat, lng, photos, confidence, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare bulk insert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		id := uuid.New().String()

		cat := rec.Category
		if cat == "" {
			cat = category
		}
		var lat, lng any
		if rec.Location != nil {
			lat, lng = rec.Location.Lat, rec.Location.Lng
		}
		photosJSON, err := json.Marshal(rec.Photos)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal photos")
		}

		if _, err := stmt.ExecContext(ctx,
			id, rec.Name, rec.Address, rec.Phone, rec.Email, rec.Website, cat,
			rec.Rating, lat, lng, string(photosJSON), rec.Confidence, source, now,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert place %q", rec.Name)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit bulk insert")
	}
	return ids, nil
}

func (s *SQLiteStore) GetPlace(ctx context.Context, id string) (*model.ExistingRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, phone, email, website, lat, lng FROM places WHERE id = ?`, id)

	rec, err := scanPlace(row)
	if err == errNotFound {
		return nil, eris.Errorf("place not found: %s", id)
	}
	return rec, err
}

// --- helpers ---

var errNotFound = eris.New("not found")

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var kind, status string
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&j.ID, &kind, &j.Source, &j.City, &j.Category, &status,
		&j.Priority, &j.Attempts, &j.MaxAttempts, &j.Payload, &j.Result,
		&errMsg, &startedAt, &completedAt, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("job not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan job")
	}

	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	j.Error = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func scanPlace(row scannable) (*model.ExistingRecord, error) {
	var rec model.ExistingRecord
	var lat, lng sql.NullFloat64

	err := row.Scan(&rec.ID, &rec.Name, &rec.Address, &rec.Phone, &rec.Email, &rec.Website, &lat, &lng)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan place")
	}
	if lat.Valid && lng.Valid {
		rec.Location = &model.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &rec, nil
}

func scanPlaces(rows *sql.Rows) ([]model.ExistingRecord, error) {
	var records []model.ExistingRecord
	for rows.Next() {
		rec, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "iterate places")
}
