// Package storage provides the object-store layer of the pipeline: JSONL
// batch loading, the idempotent replace protocol for time-series partitions,
// partition manifests, status tagging and the per-entity run-state store.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/gamelake/igdb-pipeline/pkg/igdb"
)

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Object status tag values. New batches start as temp, become final after
// the manifest is updated, and superseded snapshot batches become outdated.
const (
	TagStatus      = "status"
	StatusTemp     = "temp"
	StatusFinal    = "final"
	StatusOutdated = "outdated"
)

// ManifestName is the per-partition manifest object name.
const ManifestName = "_manifest.json"

// PutOptions carries per-object metadata for Put.
type PutOptions struct {
	ContentType string
	Tags        map[string]string
}

// ObjectStore is the capability surface the pipeline needs from an object
// store. MinioStore is the production implementation; MemoryStore backs
// tests and local runs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Move(ctx context.Context, src, dst string) error
	Tags(ctx context.Context, key string) (map[string]string, error)
	SetTags(ctx context.Context, key string, tags map[string]string) error
}

// PartitionPrefix returns the canonical object prefix for one entity run.
// Dimensions are unpartitioned snapshots; facts and time-series partition
// by extraction date.
func PartitionPrefix(entity igdb.Entity, dtPartition string) string {
	if entity.Kind == igdb.KindDimension {
		return "raw/dimensions/" + entity.Name
	}
	return fmt.Sprintf("raw/%s/dt=%s", entity.Name, dtPartition)
}

// EntityPrefix returns the prefix covering every partition of an entity,
// used when re-tagging superseded files after a full refresh.
func EntityPrefix(entity igdb.Entity) string {
	if entity.Kind == igdb.KindDimension {
		return "raw/dimensions/" + entity.Name + "/"
	}
	return "raw/" + entity.Name + "/"
}
