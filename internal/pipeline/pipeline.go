// Package pipeline turns raw source input into validated, deduplicated and
// optionally enriched place records. Failures never escape the pipeline
// boundary; they are collected on the result.
package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/placeforge/ingest-cli/internal/model"
	"github.com/placeforge/ingest-cli/internal/similarity"
)

// Parser extracts candidate records from unstructured text.
type Parser interface {
	ParseText(ctx context.Context, text string) ([]model.CandidateRecord, error)
}

// Validator runs field-level rule checks on a record.
type Validator interface {
	Validate(record *model.CandidateRecord) model.Validation
}

// Enhancer attaches SEO/content metadata to a record.
type Enhancer interface {
	Enhance(ctx context.Context, record *model.CandidateRecord) (*model.Enrichment, error)
}

// RecordLookup is the read-side store contract for duplicate checks.
// store.PlaceStore satisfies it.
type RecordLookup interface {
	FindCandidates(ctx context.Context, namePrefix string, limit int) ([]model.ExistingRecord, error)
	FindNear(ctx context.Context, lat, lng, radiusKm float64) ([]model.ExistingRecord, error)
}

// Options control a single pipeline invocation.
type Options struct {
	SkipDuplicateCheck bool
	SkipEnhancement    bool
	Category           string
}

// Config tunes pipeline behaviour. Zero values fall back to defaults.
type Config struct {
	// MaxCandidates caps the name-prefix candidate lookup.
	MaxCandidates int `yaml:"max_candidates" mapstructure:"max_candidates"`
	// GeoRadiusKm is the fallback duplicate search radius.
	GeoRadiusKm float64 `yaml:"geo_radius_km" mapstructure:"geo_radius_km"`
	// Concurrency bounds ProcessBatch fan-out.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

func (c *Config) applyDefaults() {
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 50
	}
	if c.GeoRadiusKm <= 0 {
		c.GeoRadiusKm = 0.05
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
}

// Pipeline wires the parse/validate/dedup/enrich stages together.
type Pipeline struct {
	parser    Parser
	validator Validator
	enhancer  Enhancer
	lookup    RecordLookup
	engine    *similarity.Engine
	cfg       Config
}

// New creates a Pipeline. A nil validator falls back to RuleValidator, a nil
// engine to the default similarity engine, and a nil enhancer disables
// enrichment.
func New(parser Parser, validator Validator, enhancer Enhancer, lookup RecordLookup, engine *similarity.Engine, cfg Config) *Pipeline {
	cfg.applyDefaults()
	if validator == nil {
		validator = NewRuleValidator()
	}
	if engine == nil {
		engine = similarity.NewEngine()
	}
	return &Pipeline{
		parser:    parser,
		validator: validator,
		enhancer:  enhancer,
		lookup:    lookup,
		engine:    engine,
		cfg:       cfg,
	}
}

// ProcessText parses raw text and runs the full pipeline on the first
// extracted record. Zero extracted records is a hard error on the result.
func (p *Pipeline) ProcessText(ctx context.Context, text string, opts Options) *model.PipelineResult {
	result := &model.PipelineResult{Original: text}

	records, err := p.parser.ParseText(ctx, text)
	if err != nil {
		result.Errors = append(result.Errors, "parse failed: "+err.Error())
		return result
	}
	if len(records) == 0 {
		result.Errors = append(result.Errors, "no records extracted from input")
		return result
	}
	if len(records) > 1 {
		result.Warnings = append(result.Warnings, "multiple records extracted, processing the first")
	}

	p.processRecord(ctx, records[0], opts, result)
	return result
}

// ProcessRecord runs the validate/dedup/enrich stages on an already-structured
// record.
func (p *Pipeline) ProcessRecord(ctx context.Context, record model.CandidateRecord, opts Options) *model.PipelineResult {
	result := &model.PipelineResult{Original: record.Name}
	p.processRecord(ctx, record, opts, result)
	return result
}

func (p *Pipeline) processRecord(ctx context.Context, record model.CandidateRecord, opts Options, result *model.PipelineResult) {
	if record.Category == "" {
		record.Category = opts.Category
	}

	validation := p.validator.Validate(&record)
	result.Errors = append(result.Errors, validation.Errors...)
	result.Warnings = append(result.Warnings, validation.Warnings...)

	// Invalid records still flow through classification so reviewers see
	// their duplicate status.
	result.Validated = &record
	result.Confidence = record.Confidence

	if !opts.SkipDuplicateCheck {
		p.checkDuplicate(ctx, &record, result)
	}

	if result.IsDuplicate || opts.SkipEnhancement || p.enhancer == nil {
		return
	}

	enrichment, err := p.enhancer.Enhance(ctx, &record)
	if err != nil {
		zap.L().Warn("enhancement failed",
			zap.String("name", record.Name),
			zap.Error(err),
		)
		result.Warnings = append(result.Warnings, "enhancement failed: "+err.Error())
		return
	}
	result.Enriched = enrichment
}

// checkDuplicate scores the record against name-prefix candidates, falling
// back to a small geo-radius search when the prefix filter returns nothing.
func (p *Pipeline) checkDuplicate(ctx context.Context, record *model.CandidateRecord, result *model.PipelineResult) {
	existing, err := p.lookup.FindCandidates(ctx, namePrefix(record.Name), p.cfg.MaxCandidates)
	if err != nil {
		result.Warnings = append(result.Warnings, "duplicate check failed: "+err.Error())
		return
	}

	for i := range existing {
		if match := p.engine.Match(*record, existing[i]); match != nil {
			result.IsDuplicate = true
			result.DuplicateOfID = existing[i].ID
			result.Match = match
			return
		}
	}

	if len(existing) > 0 || record.Location == nil || record.Location.Zero() {
		return
	}

	nearby, err := p.lookup.FindNear(ctx, record.Location.Lat, record.Location.Lng, p.cfg.GeoRadiusKm)
	if err != nil {
		result.Warnings = append(result.Warnings, "geo duplicate check failed: "+err.Error())
		return
	}

	name := similarity.NormalizeName(record.Name)
	for i := range nearby {
		sim := similarity.JaroWinkler(name, similarity.NormalizeName(nearby[i].Name))
		if sim > similarity.DefaultThreshold {
			result.IsDuplicate = true
			result.DuplicateOfID = nearby[i].ID
			result.Match = &model.DuplicateMatch{
				Candidate:       *record,
				MatchedExisting: nearby[i],
				Similarity:      sim,
				MatchReasons:    []string{"nearby record with matching name"},
			}
			return
		}
	}
}

// ProcessBatch runs ProcessText over items with bounded concurrency,
// preserving input order in the output slice.
func (p *Pipeline) ProcessBatch(ctx context.Context, items []string, opts Options) []*model.PipelineResult {
	results := make([]*model.PipelineResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range items {
		i := i
		g.Go(func() error {
			results[i] = p.ProcessText(gctx, items[i], opts)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	return results
}

// ProcessRecords runs ProcessRecord over already-structured records with
// bounded concurrency, preserving input order in the output slice.
func (p *Pipeline) ProcessRecords(ctx context.Context, records []model.CandidateRecord, opts Options) []*model.PipelineResult {
	results := make([]*model.PipelineResult, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range records {
		i := i
		g.Go(func() error {
			results[i] = p.ProcessRecord(gctx, records[i], opts)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	return results
}

// namePrefix picks the leading name token used for the candidate filter.
func namePrefix(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return name
	}
	return fields[0]
}
