package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/gamelake/igdb-pipeline/pkg/logging"
)

// ListWithTag returns the keys under prefix whose tag tagKey equals
// tagValue. Manifests are never included.
func ListWithTag(ctx context.Context, store ObjectStore, prefix, tagKey, tagValue string) ([]string, error) {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	logger := logging.NewLogger("storage")

	var matched []string
	for _, key := range keys {
		if strings.HasSuffix(key, "/"+ManifestName) || strings.HasSuffix(key, "/") {
			continue
		}
		tags, err := store.Tags(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("Skipping untaggable object")
			continue
		}
		if tags[tagKey] == tagValue {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

// SetStatus applies the status tag to every key, continuing past individual
// failures. Returns the number of objects tagged.
func SetStatus(ctx context.Context, store ObjectStore, keys []string, status string) int {
	logger := logging.NewLogger("storage")

	tagged := 0
	for _, key := range keys {
		if err := store.SetTags(ctx, key, map[string]string{TagStatus: status}); err != nil {
			logger.Error().Err(err).Str("key", key).Str("status", status).Msg("Tag update failed")
			continue
		}
		tagged++
	}
	return tagged
}
