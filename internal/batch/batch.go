// Package batch coordinates pipeline runs over many raw items and persists
// the survivors in one write.
package batch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/placeforge/ingest-cli/internal/model"
	"github.com/placeforge/ingest-cli/internal/pipeline"
)

// enrichPriority keeps follow-up enrichment jobs behind interactive work.
const enrichPriority = 1

// JobQueue schedules follow-up jobs. *scheduler.Scheduler satisfies it.
type JobQueue interface {
	Enqueue(ctx context.Context, job *model.Job) error
}

// Saver is the write-side store contract. store.PlaceStore satisfies it.
type Saver interface {
	BulkInsert(ctx context.Context, records []model.CandidateRecord, source, category string) ([]string, error)
}

// Options control one coordinated batch.
type Options struct {
	Source string
	City   string
	// Category applied to records without one.
	Category string
	// SkipDuplicates excludes records classified duplicate from the save.
	SkipDuplicates bool
	// EnrichAll runs enhancement inline instead of scheduling enrich jobs.
	EnrichAll bool
}

// SaveResult summarizes a coordinated batch.
type SaveResult struct {
	Processed  int                     `json:"processed"`
	Saved      int                     `json:"saved"`
	Duplicates int                     `json:"duplicates"`
	Errors     int                     `json:"errors"`
	SavedIDs   []string                `json:"saved_ids,omitempty"`
	Results    []*model.PipelineResult `json:"results"`
}

// enrichPayload is the payload of a scheduled enrich job.
type enrichPayload struct {
	PlaceID string `json:"place_id"`
	Name    string `json:"name"`
}

// Coordinator runs the pipeline over batches and owns the save/schedule step.
// The queue may be nil, in which case no follow-up jobs are scheduled.
type Coordinator struct {
	pipeline *pipeline.Pipeline
	saver    Saver
	queue    JobQueue
}

// New creates a Coordinator.
func New(p *pipeline.Pipeline, saver Saver, queue JobQueue) *Coordinator {
	return &Coordinator{pipeline: p, saver: saver, queue: queue}
}

// ProcessAndSave pipelines every raw text item, partitions the results, and
// bulk persists the records that survived. One item's failure never aborts its
// siblings; a failed bulk write is surfaced on each affected result.
func (c *Coordinator) ProcessAndSave(ctx context.Context, items []string, opts Options) *SaveResult {
	results := c.pipeline.ProcessBatch(ctx, items, pipeline.Options{
		SkipEnhancement: !opts.EnrichAll,
		Category:        opts.Category,
	})
	return c.save(ctx, results, opts)
}

// ProcessRecordsAndSave is ProcessAndSave for already-structured records, as
// read from CSV/JSON/XLSX/shapefile sources. No parse stage runs.
func (c *Coordinator) ProcessRecordsAndSave(ctx context.Context, records []model.CandidateRecord, opts Options) *SaveResult {
	results := c.pipeline.ProcessRecords(ctx, records, pipeline.Options{
		SkipEnhancement: !opts.EnrichAll,
		Category:        opts.Category,
	})
	return c.save(ctx, results, opts)
}

// save partitions pipeline results, bulk persists the survivors and schedules
// follow-up enrichment.
func (c *Coordinator) save(ctx context.Context, results []*model.PipelineResult, opts Options) *SaveResult {
	out := &SaveResult{Processed: len(results), Results: results}

	var toSave []model.CandidateRecord
	var saveIdx []int
	for i, r := range results {
		switch {
		case !r.OK():
			out.Errors++
		case r.IsDuplicate && opts.SkipDuplicates:
			out.Duplicates++
		case r.Validated == nil:
			out.Errors++
		default:
			toSave = append(toSave, *r.Validated)
			saveIdx = append(saveIdx, i)
		}
	}

	if len(toSave) > 0 {
		ids, err := c.saver.BulkInsert(ctx, toSave, opts.Source, opts.Category)
		if err != nil {
			zap.L().Error("bulk insert failed",
				zap.Int("records", len(toSave)),
				zap.Error(err),
			)
			for _, i := range saveIdx {
				results[i].Errors = append(results[i].Errors, "persist failed: "+err.Error())
				out.Errors++
			}
		} else {
			out.Saved = len(ids)
			out.SavedIDs = ids
			c.scheduleEnrichment(ctx, opts, toSave, ids)
		}
	}

	zap.L().Info("batch processed",
		zap.Int("processed", out.Processed),
		zap.Int("saved", out.Saved),
		zap.Int("duplicates", out.Duplicates),
		zap.Int("errors", out.Errors),
	)
	return out
}

// ProcessOne is the single-item convenience form.
func (c *Coordinator) ProcessOne(ctx context.Context, text string, opts Options) *model.PipelineResult {
	res := c.ProcessAndSave(ctx, []string{text}, opts)
	return res.Results[0]
}

// scheduleEnrichment queues a low-priority enrich job per saved record unless
// enrichment already ran inline.
func (c *Coordinator) scheduleEnrichment(ctx context.Context, opts Options, saved []model.CandidateRecord, ids []string) {
	if c.queue == nil || opts.EnrichAll {
		return
	}

	for i, id := range ids {
		payload, err := json.Marshal(enrichPayload{PlaceID: id, Name: saved[i].Name})
		if err != nil {
			continue
		}
		job := &model.Job{
			Kind:     model.JobKindEnrich,
			Source:   opts.Source,
			City:     opts.City,
			Category: opts.Category,
			Priority: enrichPriority,
			Payload:  payload,
		}
		if err := c.queue.Enqueue(ctx, job); err != nil {
			zap.L().Warn("enrich job not scheduled",
				zap.String("place_id", id),
				zap.Error(err),
			)
		}
	}
}
