package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/placeforge/ingest-cli/internal/batch"
	"github.com/placeforge/ingest-cli/internal/pipeline"
	"github.com/placeforge/ingest-cli/internal/scheduler"
	"github.com/placeforge/ingest-cli/internal/similarity"
	"github.com/placeforge/ingest-cli/internal/store"
	"github.com/placeforge/ingest-cli/pkg/enhance"
	"github.com/placeforge/ingest-cli/pkg/extract"
)

// env wires the application components from loaded config.
type env struct {
	Store       store.Store
	Engine      *similarity.Engine
	Pipeline    *pipeline.Pipeline
	Enhancer    *enhance.Enhancer
	Scheduler   *scheduler.Scheduler
	Coordinator *batch.Coordinator
}

// initEnv opens the store and builds the pipeline stack. When withQueue is
// set a scheduler is constructed and wired into the batch coordinator so
// saved records get follow-up enrich jobs.
func initEnv(ctx context.Context, withQueue bool) (*env, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	engine := similarity.NewEngine(
		similarity.WithThreshold(cfg.Similarity.Threshold),
		similarity.WithCountryPrefix(cfg.Similarity.CountryPrefix),
	)
	parser := extract.New(cfg.Extract)
	enhancer := enhance.New(cfg.Enhance)

	pipe := pipeline.New(parser, nil, enhancer, st, engine, cfg.Pipeline)

	e := &env{
		Store:    st,
		Engine:   engine,
		Pipeline: pipe,
		Enhancer: enhancer,
	}
	if withQueue {
		e.Scheduler = scheduler.New(st, cfg.Scheduler)
		e.Coordinator = batch.New(pipe, st, e.Scheduler)
	} else {
		e.Coordinator = batch.New(pipe, st, nil)
	}
	return e, nil
}

// Close releases the environment's resources.
func (e *env) Close() {
	if e.Scheduler != nil {
		e.Scheduler.Stop()
	}
	e.Store.Close() //nolint:errcheck
}
