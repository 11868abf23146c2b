// Package extract drives paginated extraction of IGDB entities: sequential
// or wave-concurrent page fetches that always yield records in dataset
// order, terminate on the first empty page, and fail a whole wave rather
// than deliver a partial one.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gamelake/igdb-pipeline/pkg/igdb"
	"github.com/gamelake/igdb-pipeline/pkg/logging"
)

// Prometheus metrics for extraction operations.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_pages_fetched_total",
		Help: "Total pages fetched by entity",
	}, []string{"entity"})

	recordsExtractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_records_extracted_total",
		Help: "Total records yielded by entity",
	}, []string{"entity"})

	wavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_waves_total",
		Help: "Total fetch waves launched by entity",
	}, []string{"entity"})
)

// DefaultWaveSize is the number of concurrent page fetches per wave. The
// rate gate, not the wave size, bounds actual request concurrency.
const DefaultWaveSize = 8

// PageFetcher fetches one page of one entity at one offset.
// *igdb.Client is the production implementation.
type PageFetcher interface {
	FetchPage(ctx context.Context, entity igdb.Entity, query string, offset int) (igdb.Page, error)
}

// Extractor produces the full ordered record sequence for one entity.
type Extractor struct {
	fetcher PageFetcher
	entity  igdb.Entity
	logger  zerolog.Logger
}

// New creates an extractor for the given entity.
func New(fetcher PageFetcher, entity igdb.Entity) *Extractor {
	return &Extractor{
		fetcher: fetcher,
		entity:  entity,
		logger:  logging.NewLogger("extractor").With().Str("entity", entity.Name).Logger(),
	}
}

// BuildQuery returns the Apicalypse query for a run. A nil watermark (or an
// entity without incremental support) selects the full-scan base query.
// With a watermark the cutoff is moved back by the entity's safety margin to
// tolerate clock skew; duplicates this admits are deduplicated downstream.
// Sorting by id keeps offset pagination stable while rows are being updated.
func (e *Extractor) BuildQuery(watermark *time.Time) string {
	if watermark == nil || !e.entity.SupportsIncremental() {
		return e.entity.BaseQuery
	}

	cutoff := watermark.Add(-e.entity.EffectiveSafetyMargin())

	e.logger.Info().
		Time("watermark", *watermark).
		Time("cutoff", cutoff).
		Msg("Building incremental query")

	return fmt.Sprintf("%s where updated_at > %d; sort id asc;",
		strings.TrimSpace(e.entity.IncrementalQuery), cutoff.Unix())
}

// Extract fetches pages one at a time, yielding records in dataset order
// until the first empty page.
func (e *Extractor) Extract(ctx context.Context, watermark *time.Time) *Stream {
	query := e.BuildQuery(watermark)
	runCtx, cancel := context.WithCancel(ctx)
	stream := newStream(cancel)

	go func() {
		defer close(stream.records)
		defer cancel()

		limit := e.entity.EffectivePageLimit()
		offset := 0
		total := 0

		for {
			page, err := e.fetcher.FetchPage(runCtx, e.entity, query, offset)
			if err != nil {
				stream.fail(err)
				return
			}
			pagesFetchedTotal.WithLabelValues(e.entity.Name).Inc()

			if len(page.Records) == 0 {
				e.logger.Info().
					Int("records", total).
					Msg("Extraction complete")
				return
			}

			for _, rec := range page.Records {
				select {
				case stream.records <- rec:
					total++
				case <-runCtx.Done():
					return
				}
			}
			recordsExtractedTotal.WithLabelValues(e.entity.Name).Add(float64(len(page.Records)))

			offset += limit
		}
	}()

	return stream
}

// ExtractConcurrent fetches pages in waves of waveSize concurrent requests
// at consecutive offsets. Within a wave, results are reassembled in offset
// order before yielding, so the produced sequence equals dataset order
// regardless of completion timing. A wave is all-or-nothing: any post-retry
// failure cancels its siblings and fails the stream without yielding any of
// the wave's records.
func (e *Extractor) ExtractConcurrent(ctx context.Context, watermark *time.Time, waveSize int) *Stream {
	if waveSize <= 0 {
		waveSize = DefaultWaveSize
	}

	query := e.BuildQuery(watermark)
	runCtx, cancel := context.WithCancel(ctx)
	stream := newStream(cancel)

	go e.runWaves(runCtx, stream, query, waveSize)

	return stream
}

func (e *Extractor) runWaves(ctx context.Context, stream *Stream, query string, waveSize int) {
	defer close(stream.records)
	defer stream.cancel()

	limit := e.entity.EffectivePageLimit()
	offset := 0
	wave := 0
	total := 0

	for {
		select {
		case <-ctx.Done():
			stream.fail(ctx.Err())
			return
		default:
		}

		pages, err := e.fetchWave(ctx, query, offset, limit, waveSize)
		if err != nil {
			stream.fail(err)
			return
		}
		wavesTotal.WithLabelValues(e.entity.Name).Inc()

		// Pages are indexed by offset order; an empty page means no data
		// exists at or beyond its offset, so later pages are empty too.
		for _, page := range pages {
			if len(page.Records) == 0 {
				e.logger.Info().
					Int("waves", wave+1).
					Int("records", total).
					Msg("Concurrent extraction complete")
				return
			}

			for _, rec := range page.Records {
				select {
				case stream.records <- rec:
					total++
				case <-ctx.Done():
					return
				}
			}
			recordsExtractedTotal.WithLabelValues(e.entity.Name).Add(float64(len(page.Records)))
		}

		e.logger.Debug().
			Int("wave", wave).
			Int("records", total).
			Msg("Wave complete")

		offset += waveSize * limit
		wave++
	}
}

// fetchWave launches waveSize page fetches at consecutive offsets and waits
// for all of them. On any failure the sibling fetches are cancelled and the
// collected errors are joined, each annotated with its offset.
func (e *Extractor) fetchWave(ctx context.Context, query string, offset, limit, waveSize int) ([]igdb.Page, error) {
	pages := make([]igdb.Page, waveSize)
	failures := make([]error, waveSize)

	g, waveCtx := errgroup.WithContext(ctx)

	for i := 0; i < waveSize; i++ {
		pageOffset := offset + i*limit
		g.Go(func() error {
			page, err := e.fetcher.FetchPage(waveCtx, e.entity, query, pageOffset)
			if err != nil {
				failures[i] = fmt.Errorf("offset %d: %w", pageOffset, err)
				return failures[i]
			}
			pages[i] = page
			pagesFetchedTotal.WithLabelValues(e.entity.Name).Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		joined := joinWaveErrors(failures)
		if joined == nil {
			joined = err
		}
		e.logger.Error().
			Err(joined).
			Int("offset", offset).
			Msg("Wave failed, discarding partial results")
		return nil, joined
	}

	return pages, nil
}

// joinWaveErrors aggregates the wave's real failures, dropping fetches that
// only died because a sibling's failure cancelled the wave context.
func joinWaveErrors(failures []error) error {
	var all, causes []error
	for _, err := range failures {
		if err == nil {
			continue
		}
		all = append(all, err)
		if !errors.Is(err, context.Canceled) {
			causes = append(causes, err)
		}
	}

	if len(causes) > 0 {
		return errors.Join(causes...)
	}
	return errors.Join(all...)
}
