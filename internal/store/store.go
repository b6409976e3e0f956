package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/placeforge/ingest-cli/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Kind   model.JobKind   `json:"kind,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// JobStore is the durable source of truth for job status. The scheduler owns
// all status transitions; everything else reads.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// MarkProcessing persists status=processing with a start timestamp and
	// bumps the attempt counter, since attempts count dispatches.
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error
	// CompleteJob persists status=completed with the result payload.
	CompleteJob(ctx context.Context, id string, result []byte) error
	// RescheduleJob returns a failed attempt to pending, carrying forward the
	// failure reason and the updated attempt count.
	RescheduleJob(ctx context.Context, id string, attempts int, errMsg string) error
	// FailJob marks a job terminally failed with its last error.
	FailJob(ctx context.Context, id string, attempts int, errMsg string) error
	// CancelJob marks a pending or processing job cancelled.
	CancelJob(ctx context.Context, id string) error

	// StaleProcessingJobs returns jobs stuck in processing whose start
	// timestamp is older than the cutoff.
	StaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error)
	// ResetStaleJob returns an orphaned processing job to pending with an
	// explanatory error.
	ResetStaleJob(ctx context.Context, id string, reason string) error
}

// PlaceStore is the read/write contract the pipeline needs against the place
// table.
type PlaceStore interface {
	// FindCandidates returns existing places whose name starts with the given
	// prefix, capped at limit.
	FindCandidates(ctx context.Context, namePrefix string, limit int) ([]model.ExistingRecord, error)
	// FindNear returns existing places within radiusKm of the coordinate.
	FindNear(ctx context.Context, lat, lng, radiusKm float64) ([]model.ExistingRecord, error)
	// BulkInsert persists records in a single write and returns their ids.
	BulkInsert(ctx context.Context, records []model.CandidateRecord, source, category string) ([]string, error)
	GetPlace(ctx context.Context, id string) (*model.ExistingRecord, error)
}

// Store combines the job and place contracts with lifecycle management.
type Store interface {
	JobStore
	PlaceStore

	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "ingest.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: sqlite, postgres)", cfg.Driver)
	}
}
