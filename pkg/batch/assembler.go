// Package batch accumulates extracted records into fixed-size batches and
// hands each batch to a Loader under a generated object key.
package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/gamelake/igdb-pipeline/pkg/extract"
	"github.com/gamelake/igdb-pipeline/pkg/igdb"
	"github.com/gamelake/igdb-pipeline/pkg/logging"
)

var batchesLoadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pipeline_batches_loaded_total",
	Help: "Total batches handed to the loader by entity",
}, []string{"entity"})

// DefaultBatchSize is the number of records per uploaded batch file.
const DefaultBatchSize = 50000

// Loader persists one batch of records under the given key. The records
// slice is reused after Load returns and must not be retained.
type Loader interface {
	Load(ctx context.Context, key string, records []igdb.Record) error
}

// Result summarizes one assembly run.
type Result struct {
	Keys       []string
	TotalCount int
	BatchCount int
}

// Assembler drains an extraction stream into batches of batchSize records,
// loading each batch as it fills and flushing the remainder at the end.
type Assembler struct {
	loader    Loader
	batchSize int
	logger    zerolog.Logger
}

// New creates an assembler. batchSize <= 0 selects DefaultBatchSize.
func New(loader Loader, batchSize int) *Assembler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Assembler{
		loader:    loader,
		batchSize: batchSize,
		logger:    logging.NewLogger("batch"),
	}
}

// Process consumes the stream and loads full batches under prefix. On a
// loader error the stream is abandoned and the error returned; batches
// already loaded are reported in the partial Result. A stream error
// surfaces after the drained records, without flushing the open batch.
func (a *Assembler) Process(ctx context.Context, stream *extract.Stream, entity igdb.Entity, prefix string) (Result, error) {
	var result Result
	buf := make([]igdb.Record, 0, a.batchSize)

	flush := func() error {
		key := BatchKey(prefix, result.BatchCount, entity)
		if err := a.loader.Load(ctx, key, buf); err != nil {
			return fmt.Errorf("load batch %d for %s: %w", result.BatchCount, entity.Name, err)
		}
		batchesLoadedTotal.WithLabelValues(entity.Name).Inc()
		a.logger.Debug().
			Str("entity", entity.Name).
			Str("key", key).
			Int("records", len(buf)).
			Msg("Batch loaded")

		result.Keys = append(result.Keys, key)
		result.BatchCount++
		buf = buf[:0]
		return nil
	}

	for rec := range stream.Records() {
		buf = append(buf, rec)
		result.TotalCount++

		if len(buf) >= a.batchSize {
			if err := flush(); err != nil {
				stream.Close()
				return result, err
			}
		}
	}

	if err := stream.Err(); err != nil {
		return result, fmt.Errorf("extract %s: %w", entity.Name, err)
	}

	if len(buf) > 0 {
		if err := flush(); err != nil {
			return result, err
		}
	}

	return result, nil
}

// BatchKey names the object for one batch. Time-series entities use a fixed
// name so a rerun of the same partition overwrites instead of accumulating;
// snapshot entities append a UUID to avoid collisions across runs.
func BatchKey(prefix string, index int, entity igdb.Entity) string {
	if entity.IsTimeSeries() {
		return fmt.Sprintf("%s/batch-%d.jsonl", prefix, index)
	}
	return fmt.Sprintf("%s/batch-%d-%s.jsonl", prefix, index, uuid.NewString())
}
