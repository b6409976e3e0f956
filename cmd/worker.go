package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/placeforge/ingest-cli/internal/batch"
	"github.com/placeforge/ingest-cli/internal/model"
	"github.com/placeforge/ingest-cli/internal/pipeline"
	"github.com/placeforge/ingest-cli/internal/scheduler"
)

// ingestJobPayload is the payload of an ingest job: raw text items plus the
// batch options to process them with.
type ingestJobPayload struct {
	Items          []string `json:"items"`
	SkipDuplicates bool     `json:"skip_duplicates"`
	EnrichAll      bool     `json:"enrich_all"`
}

// enrichJobPayload mirrors the payload the batch coordinator schedules.
type enrichJobPayload struct {
	PlaceID string `json:"place_id"`
	Name    string `json:"name"`
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job queue worker",
	Long:  "Starts the scheduler, registers processors for ingest, enrich and validate jobs, and runs until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := registerProcessors(e); err != nil {
			return err
		}

		if err := e.Scheduler.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		zap.L().Info("shutting down worker")
		return nil
	},
}

func registerProcessors(e *env) error {
	if err := e.Scheduler.Register(model.JobKindIngest, scheduler.ProcessorFunc(func(ctx context.Context, job *model.Job) ([]byte, error) {
		return runIngestJob(ctx, e, job)
	})); err != nil {
		return err
	}
	if err := e.Scheduler.Register(model.JobKindEnrich, scheduler.ProcessorFunc(func(ctx context.Context, job *model.Job) ([]byte, error) {
		return runEnrichJob(ctx, e, job)
	})); err != nil {
		return err
	}
	return e.Scheduler.Register(model.JobKindValidate, scheduler.ProcessorFunc(runValidateJob))
}

// runIngestJob processes a batch of raw text items through the full pipeline
// and persists the survivors.
func runIngestJob(ctx context.Context, e *env, job *model.Job) ([]byte, error) {
	var payload ingestJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, eris.Wrap(err, "worker: decode ingest payload")
	}
	if len(payload.Items) == 0 {
		return nil, eris.New("worker: ingest job has no items")
	}

	result := e.Coordinator.ProcessAndSave(ctx, payload.Items, batch.Options{
		Source:         job.Source,
		City:           job.City,
		Category:       job.Category,
		SkipDuplicates: payload.SkipDuplicates,
		EnrichAll:      payload.EnrichAll,
	})
	return json.Marshal(result)
}

// runEnrichJob loads the saved place and attaches generated content metadata.
func runEnrichJob(ctx context.Context, e *env, job *model.Job) ([]byte, error) {
	var payload enrichJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, eris.Wrap(err, "worker: decode enrich payload")
	}

	place, err := e.Store.GetPlace(ctx, payload.PlaceID)
	if err != nil {
		return nil, eris.Wrapf(err, "worker: load place %s", payload.PlaceID)
	}

	record := place.Candidate()
	enrichment, err := e.Enhancer.Enhance(ctx, &record)
	if err != nil {
		return nil, eris.Wrapf(err, "worker: enhance %s", payload.PlaceID)
	}
	return json.Marshal(enrichment)
}

// runValidateJob re-runs rule validation on a structured record.
func runValidateJob(ctx context.Context, job *model.Job) ([]byte, error) {
	var record model.CandidateRecord
	if err := json.Unmarshal(job.Payload, &record); err != nil {
		return nil, eris.Wrap(err, "worker: decode validate payload")
	}

	// An invalid record is still a successful validation run; the verdict
	// lives in the result payload.
	validation := pipeline.NewRuleValidator().Validate(&record)
	return json.Marshal(validation)
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
