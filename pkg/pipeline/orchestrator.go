// Package pipeline orchestrates per-entity extraction runs: mode selection,
// batch loading, partition replacement, manifest and tag maintenance, and
// watermark advancement.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/gamelake/igdb-pipeline/pkg/batch"
	"github.com/gamelake/igdb-pipeline/pkg/extract"
	"github.com/gamelake/igdb-pipeline/pkg/igdb"
	"github.com/gamelake/igdb-pipeline/pkg/logging"
	"github.com/gamelake/igdb-pipeline/pkg/storage"
)

var (
	entityRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_entity_runs_total",
		Help: "Total entity runs by entity and result",
	}, []string{"entity", "result"})

	entityRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_entity_run_duration_seconds",
		Help:    "Entity run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"entity"})
)

// Run modes reported in Result.Mode.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Fetcher   extract.PageFetcher
	Loader    batch.Loader
	Store     storage.ObjectStore
	State     storage.StateManager
	BatchSize int
	WaveSize  int
}

// RunOptions selects what one pipeline invocation covers.
type RunOptions struct {
	// FullRefresh forces full extraction and supersedes prior snapshot files.
	FullRefresh bool
	// Date is the target partition (YYYY-MM-DD); empty means today (UTC).
	Date string
	// Entities restricts the run; empty means the whole catalog.
	Entities []string
}

// Result reports one entity's run.
type Result struct {
	Entity  string
	Records int
	Files   int
	Elapsed time.Duration
	Mode    string
	Err     error
}

// Orchestrator runs the extraction pipeline over the entity catalog.
type Orchestrator struct {
	fetcher   extract.PageFetcher
	store     storage.ObjectStore
	state     storage.StateManager
	assembler *batch.Assembler
	replacer  *storage.Replacer
	waveSize  int
	logger    zerolog.Logger
}

// New creates an orchestrator from its collaborators.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Fetcher == nil || cfg.Loader == nil || cfg.Store == nil || cfg.State == nil {
		return nil, errors.New("pipeline: fetcher, loader, store and state are required")
	}
	return &Orchestrator{
		fetcher:   cfg.Fetcher,
		store:     cfg.Store,
		state:     cfg.State,
		assembler: batch.New(cfg.Loader, cfg.BatchSize),
		replacer:  storage.NewReplacer(cfg.Store),
		waveSize:  cfg.WaveSize,
		logger:    logging.NewLogger("orchestrator"),
	}, nil
}

// Run executes the selected entities in catalog order (dimensions first,
// games last). One entity's failure is reported in its Result and the
// joined return error, but does not stop the remaining entities.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) ([]Result, error) {
	entities, err := selectEntities(opts.Entities)
	if err != nil {
		return nil, err
	}

	dtPartition := opts.Date
	if dtPartition == "" {
		dtPartition = time.Now().UTC().Format("2006-01-02")
	}

	o.logger.Info().
		Str("partition", dtPartition).
		Bool("full_refresh", opts.FullRefresh).
		Int("entities", len(entities)).
		Msg("Pipeline run starting")

	results := make([]Result, 0, len(entities))
	var failures []error

	for _, entity := range entities {
		result := o.runEntity(ctx, entity, dtPartition, opts.FullRefresh)
		results = append(results, result)

		if result.Err != nil {
			failures = append(failures, fmt.Errorf("entity %s: %w", entity.Name, result.Err))
			entityRunsTotal.WithLabelValues(entity.Name, "failure").Inc()
			continue
		}
		entityRunsTotal.WithLabelValues(entity.Name, "success").Inc()
	}

	o.logger.Info().
		Int("succeeded", len(results)-len(failures)).
		Int("failed", len(failures)).
		Msg("Pipeline run finished")

	return results, errors.Join(failures...)
}

func (o *Orchestrator) runEntity(ctx context.Context, entity igdb.Entity, dtPartition string, fullRefresh bool) Result {
	start := time.Now()
	runStart := start.UTC()
	logger := o.logger.With().Str("entity", entity.Name).Logger()

	fail := func(err error) Result {
		logger.Error().Err(err).Msg("Entity run failed")
		return Result{
			Entity:  entity.Name,
			Elapsed: time.Since(start),
			Err:     err,
		}
	}

	canonical := storage.PartitionPrefix(entity, dtPartition)

	// Time-series partitions extract into a staging prefix so the canonical
	// partition is replaced only after the whole run succeeded.
	workPrefix := canonical
	if entity.IsTimeSeries() {
		runID := uuid.NewString()[:8]
		workPrefix = storage.StagingPrefix(canonical, runID)
		logger.Info().Str("staging", workPrefix).Msg("Staging time-series run")
	}

	// Collect the snapshot files a full refresh will supersede. Time-series
	// history keeps its final tags.
	var toOutdate []string
	if fullRefresh && !entity.IsTimeSeries() {
		var err error
		toOutdate, err = storage.ListWithTag(ctx, o.store, storage.EntityPrefix(entity), storage.TagStatus, storage.StatusFinal)
		if err != nil {
			return fail(fmt.Errorf("list superseded files: %w", err))
		}
	}

	watermark, err := o.watermarkFor(ctx, entity, fullRefresh)
	if err != nil {
		return fail(fmt.Errorf("read watermark: %w", err))
	}

	mode := ModeFull
	if watermark != nil {
		mode = ModeIncremental
	}
	logger.Info().Str("mode", mode).Msg("Entity run starting")

	stream := extract.New(o.fetcher, entity).ExtractConcurrent(ctx, watermark, o.waveSize)
	batchResult, err := o.assembler.Process(ctx, stream, entity, workPrefix)
	if err != nil {
		return fail(err)
	}

	files := batchResult.Keys
	if batchResult.TotalCount > 0 {
		if entity.IsTimeSeries() {
			files, err = o.replacer.Promote(ctx, canonical, workPrefix)
			if err != nil {
				return fail(fmt.Errorf("promote staging: %w", err))
			}
		}

		// A full extraction replaces the partition's contents, so its
		// manifest is replaced too; only incremental runs merge.
		if _, err := storage.UpdateManifest(ctx, o.store, canonical, files, batchResult.TotalCount, runStart, mode == ModeFull); err != nil {
			return fail(err)
		}

		if len(toOutdate) > 0 {
			tagged := storage.SetStatus(ctx, o.store, toOutdate, storage.StatusOutdated)
			logger.Info().Int("files", tagged).Msg("Superseded files tagged outdated")
		}
		storage.SetStatus(ctx, o.store, files, storage.StatusFinal)
	}

	// Watermark advances only after everything above succeeded.
	if err := o.state.SaveLastRunTime(ctx, entity.Name, runStart); err != nil {
		return fail(fmt.Errorf("save watermark: %w", err))
	}

	elapsed := time.Since(start)
	entityRunDuration.WithLabelValues(entity.Name).Observe(elapsed.Seconds())

	logger.Info().
		Str("mode", mode).
		Int("records", batchResult.TotalCount).
		Int("files", len(files)).
		Dur("elapsed", elapsed).
		Msg("Entity run complete")

	return Result{
		Entity:  entity.Name,
		Records: batchResult.TotalCount,
		Files:   len(files),
		Elapsed: elapsed,
		Mode:    mode,
	}
}

// watermarkFor decides full versus incremental extraction. Time-series
// entities and forced refreshes always run full; otherwise the saved last
// run time (if any) drives an incremental run.
func (o *Orchestrator) watermarkFor(ctx context.Context, entity igdb.Entity, fullRefresh bool) (*time.Time, error) {
	if entity.IsTimeSeries() || fullRefresh || !entity.SupportsIncremental() {
		return nil, nil
	}
	return o.state.LastRunTime(ctx, entity.Name)
}

func selectEntities(names []string) ([]igdb.Entity, error) {
	catalog := igdb.Catalog()
	if len(names) == 0 {
		return catalog, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := igdb.LookupEntity(name); !ok {
			return nil, fmt.Errorf("unknown entity %q", name)
		}
		wanted[name] = true
	}

	selected := make([]igdb.Entity, 0, len(names))
	for _, entity := range catalog {
		if wanted[entity.Name] {
			selected = append(selected, entity)
		}
	}
	return selected, nil
}
