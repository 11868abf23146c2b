package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gamelake/igdb-pipeline/pkg/logging"
)

// StagingPrefix returns the staging location for one replace run inside a
// canonical partition.
func StagingPrefix(canonical, runID string) string {
	return strings.TrimSuffix(canonical, "/") + "/_staging_" + runID
}

// Replacer performs the idempotent replace protocol for time-series
// partitions: batches are written under a staging prefix, then the
// partition's existing objects are deleted and the staged objects moved in.
// Rerunning the same partition converges on a single copy of the data. The
// protocol only ever touches the one partition it was given; a failure
// mid-sequence leaves either the old or the new objects listable, never a
// mix with siblings.
type Replacer struct {
	store  ObjectStore
	logger zerolog.Logger
}

// NewReplacer creates a replacer on the given store.
func NewReplacer(store ObjectStore) *Replacer {
	return &Replacer{
		store:  store,
		logger: logging.NewLogger("replacer"),
	}
}

// Promote replaces the canonical partition's data objects with the staged
// ones and returns the final keys in staged order. Staging directories of
// other runs and the partition manifest are left untouched.
func (r *Replacer) Promote(ctx context.Context, canonical, staging string) ([]string, error) {
	canonical = strings.TrimSuffix(canonical, "/")
	staging = strings.TrimSuffix(staging, "/")

	staged, err := r.store.List(ctx, staging+"/")
	if err != nil {
		return nil, fmt.Errorf("list staging %s: %w", staging, err)
	}
	if len(staged) == 0 {
		return nil, fmt.Errorf("nothing staged under %s", staging)
	}

	existing, err := r.store.List(ctx, canonical+"/")
	if err != nil {
		return nil, fmt.Errorf("list partition %s: %w", canonical, err)
	}

	deleted := 0
	for _, key := range existing {
		if strings.Contains(key, "/_staging_") || strings.HasSuffix(key, "/"+ManifestName) {
			continue
		}
		if err := r.store.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("delete %s: %w", key, err)
		}
		deleted++
	}

	final := make([]string, 0, len(staged))
	for _, key := range staged {
		dst := canonical + "/" + strings.TrimPrefix(key, staging+"/")
		if err := r.store.Move(ctx, key, dst); err != nil {
			return nil, fmt.Errorf("promote %s: %w", key, err)
		}
		final = append(final, dst)
	}

	r.logger.Info().
		Str("partition", canonical).
		Int("deleted", deleted).
		Int("promoted", len(final)).
		Msg("Partition replaced")

	return final, nil
}
