package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gamelake/igdb-pipeline/pkg/igdb"
)

// JSONLLoader writes record batches as line-delimited JSON objects. New
// objects carry the temp status tag until the run's manifest is updated.
type JSONLLoader struct {
	store ObjectStore
}

// NewJSONLLoader creates a loader backed by the given store.
func NewJSONLLoader(store ObjectStore) *JSONLLoader {
	return &JSONLLoader{store: store}
}

// Load encodes records as JSONL and puts them under key. Empty batches are
// a no-op.
func (l *JSONLLoader) Load(ctx context.Context, key string, records []igdb.Record) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record for %s: %w", key, err)
		}
	}

	return l.store.Put(ctx, key, buf.Bytes(), PutOptions{
		ContentType: "application/x-jsonlines",
		Tags:        map[string]string{TagStatus: StatusTemp},
	})
}
